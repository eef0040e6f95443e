// Package configs provides the embedded configuration template for classidx.
//
// The template is embedded at build time so `classidx config init` works in
// every distribution. It documents each setting with its default value; the
// defaults themselves live in internal/config NewConfig().
//
// To modify the template, edit config.example.yaml and rebuild.
package configs

import _ "embed"

// ConfigTemplate is written by `classidx config init`, for both the project
// file (.classidx.yaml) and the user file (~/.config/classidx/config.yaml).
//
//go:embed config.example.yaml
var ConfigTemplate string
