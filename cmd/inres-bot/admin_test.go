package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phonginreallife/inres-oncall/db"
	"github.com/phonginreallife/inres-oncall/services"
)

func TestRenderRoster(t *testing.T) {
	var buf bytes.Buffer
	renderRoster(&buf, []services.RosterLine{{
		Entry:     db.RosterEntry{Team: "linux", Date: "2025-03-14", PrimaryID: 11, SecondaryID: 12},
		Primary:   &db.User{ID: 11, FullName: "Priya Primary", Phone: "+11"},
		Secondary: &db.User{ID: 12},
	}})

	out := buf.String()
	assert.Contains(t, out, "PRIMARY PHONE")
	assert.Contains(t, out, "Priya Primary")
	assert.Contains(t, out, "+11")
	// unknown secondaries fall back to their id and a dash
	row := strings.Split(out, "\n")[3]
	assert.Contains(t, row, "12")
	assert.Contains(t, row, "-")
}
