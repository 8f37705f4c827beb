// Package sniffer identifies uploaded images from their leading bytes. The
// client-declared type is never trusted.
package sniffer

import (
	"bytes"
	"errors"
	"slices"
)

type Result struct {
	MIME      string
	Extension string
}

var (
	ErrUnknownType = errors.New("unknown media type")
	ErrNotAllowed  = errors.New("media type not allowed")
)

var (
	jpeg = Result{MIME: "image/jpeg", Extension: ".jpg"}
	png  = Result{MIME: "image/png", Extension: ".png"}
	gif  = Result{MIME: "image/gif", Extension: ".gif"}
	webp = Result{MIME: "image/webp", Extension: ".webp"}
	avif = Result{MIME: "image/avif", Extension: ".avif"}
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func DetectHead(head []byte) (Result, error) {
	switch {
	case len(head) == 0:
		return Result{}, ErrUnknownType
	case isJPEG(head):
		return jpeg, nil
	case bytes.HasPrefix(head, pngMagic):
		return png, nil
	case bytes.HasPrefix(head, []byte("GIF87a")), bytes.HasPrefix(head, []byte("GIF89a")):
		return gif, nil
	case isWEBP(head):
		return webp, nil
	case isAVIF(head):
		return avif, nil
	}
	return Result{}, ErrUnknownType
}

// Allowed detects the type of data and checks it against the allowed mime list.
func Allowed(data []byte, mimes []string) (Result, error) {
	res, err := DetectHead(data)
	if err != nil {
		return Result{}, err
	}
	if !slices.Contains(mimes, res.MIME) {
		return Result{}, ErrNotAllowed
	}
	return res, nil
}

// ByExtension maps a stored file name back to its mime type.
func ByExtension(ext string) string {
	for _, r := range []Result{jpeg, png, gif, webp, avif} {
		if r.Extension == ext {
			return r.MIME
		}
	}
	if ext == ".jpeg" {
		return jpeg.MIME
	}
	return "application/octet-stream"
}

func isJPEG(head []byte) bool {
	return len(head) > 3 && head[0] == 0xff && head[1] == 0xd8 && head[2] == 0xff
}

func isWEBP(head []byte) bool {
	return len(head) >= 12 &&
		bytes.Equal(head[:4], []byte("RIFF")) &&
		bytes.Equal(head[8:12], []byte("WEBP"))
}

func isAVIF(head []byte) bool {
	if len(head) < 12 {
		return false
	}
	return string(head[4:8]) == "ftyp" && bytes.Contains(head[8:min(len(head), 32)], []byte("avif"))
}
