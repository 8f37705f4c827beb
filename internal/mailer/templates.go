package mailer

import (
	"bytes"
	"fmt"
	"net/url"
	"text/template"
)

type rendered struct {
	Subject string
	Body    string
}

var templates = map[string]*template.Template{
	TypeLogin: template.Must(template.New(TypeLogin).Parse(`Login to Muistot
Hi {{.User}},

use the link below to log in. It is valid for a few minutes and works once.

{{.Link}}
{{if not .Verified}}
Logging in also confirms this email address.
{{end}}`)),
	TypeRegister: template.Must(template.New(TypeRegister).Parse(`Welcome to Muistot
Hi {{.User}},

confirm your email address to finish registering:

{{.Link}}
`)),
	TypeVerify: template.Must(template.New(TypeVerify).Parse(`Confirm your email address
Hi {{.User}},

confirm your new email address with the link below:

{{.Link}}
`)),
}

// Links are the front-end addresses the user and token are appended to.
type Links struct {
	Login  string
	Verify string
}

func (l Links) For(msg Message) (string, error) {
	base := l.Login
	if msg.Type != TypeLogin {
		base = l.Verify
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse link base: %w", err)
	}
	q := u.Query()
	q.Set("user", msg.User)
	q.Set("token", msg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// render builds the subject (first line) and body of msg.
func render(msg Message, links Links) (rendered, error) {
	tmpl, ok := templates[msg.Type]
	if !ok {
		return rendered{}, fmt.Errorf("unknown mail type %q", msg.Type)
	}
	link, err := links.For(msg)
	if err != nil {
		return rendered{}, err
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		Message
		Link string
	}{msg, link})
	if err != nil {
		return rendered{}, fmt.Errorf("render %s mail: %w", msg.Type, err)
	}

	subject, body, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	return rendered{Subject: string(subject), Body: string(body)}, nil
}
