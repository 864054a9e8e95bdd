// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// uidPattern matches minted identifiers: a lowercase prefix, an
// underscore, and 32 hex characters.
var uidPattern = regexp.MustCompile(`^[a-z]+_[0-9a-f]{32}$`)

// init registers the "uid" binding validation so malformed identifiers
// fail at bind time instead of surfacing as store misses.
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("uid", func(fl validator.FieldLevel) bool {
			return uidPattern.MatchString(fl.Field().String())
		})
	}
}
