package server

import "muistot/api/internal/apperr"

var (
	errNoRoute  = apperr.NotFound("no such endpoint")
	errNoMethod = apperr.Bad("method not allowed")
)
