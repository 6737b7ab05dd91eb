// Package config loads, normalizes, and validates vidconv configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours
// environment fallbacks such as VIDCONV_BUCKET and MEDIACONVERT_ROLE_ARN. The
// Config type centralizes every knob the daemon and CLI need so the store,
// transcoder, scorer, and downloader are wired from one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
