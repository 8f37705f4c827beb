// Package status folds everything an authorization decision needs into a
// single bitmask value.
package status

import "strings"

type Status uint32

const None Status = 0

const (
	Exists Status = 1 << iota
	DoesNotExist
	Published
	NotPublished
	Own
	Anonymous
	Authenticated
	Admin
	Superuser
	AdminPosting
	AutoPublish
)

var names = []struct {
	flag Status
	name string
}{
	{Exists, "EXISTS"},
	{DoesNotExist, "DOES_NOT_EXIST"},
	{Published, "PUBLISHED"},
	{NotPublished, "NOT_PUBLISHED"},
	{Own, "OWN"},
	{Anonymous, "ANONYMOUS"},
	{Authenticated, "AUTHENTICATED"},
	{Admin, "ADMIN"},
	{Superuser, "SUPERUSER"},
	{AdminPosting, "ADMIN_POSTING"},
	{AutoPublish, "AUTO_PUBLISH"},
}

// Has reports whether every flag of mask is set.
func (s Status) Has(mask Status) bool {
	return s&mask == mask
}

// Any reports whether at least one flag of mask is set.
func (s Status) Any(mask Status) bool {
	return s&mask != 0
}

func (s Status) String() string {
	if s == None {
		return "NONE"
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if s&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
