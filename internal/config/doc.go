// Package config resolves the two backend base URLs from the environment and
// loads optional client tuning from YAML.
//
// Base URLs come from NUXT_PUBLIC_API_BASE and NUXT_PUBLIC_WS_BASE, with a
// .env file in the working directory consulted first. Tuning files support
// ${VAR} syntax for environment variable interpolation.
package config
