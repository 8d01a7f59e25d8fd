package main

import "errors"

// Sentinel errors for command operations
var (
	ErrDatabaseNotConfigured = errors.New("database not configured")
	ErrDatabaseConnection    = errors.New("database connection failed")
	ErrTestsFailed           = errors.New("some tests failed")
	ErrNoDatabase            = errors.New("no database given and no default_database configured")
)
