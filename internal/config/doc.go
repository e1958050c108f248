// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the reelstream configuration.
//
// Precedence is defaults, then the YAML file, then REELSTREAM_* environment
// variables. The file is parsed strictly: unknown keys are an error. Holder
// keeps the live configuration and reloads it when the file changes.
package config
