// Package config loads the bridge daemon configuration from a YAML file and
// lets MOPRO_* environment variables override the values operators change
// most often.
package config
