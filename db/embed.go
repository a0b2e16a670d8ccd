// Package db embeds the SQL migrations so binaries can bootstrap their own
// schema without a files-on-disk deployment step.
package db

import _ "embed"

// Schema is the full DDL for the coupon engine tables, applied idempotently
// at startup.
//
//go:embed migrations/001_schema.sql
var Schema string
