// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads azchat's settings.
//
// # Example config.toml
//
//	default_model = "gpt-4.1"
//	log_level = "warn"
//
//	[azure]
//	endpoint = "https://myresource.openai.azure.com"
//	api_version = "2023-05-15"
//
//	[deployments]
//	"gpt-4.1" = "prod-gpt41"
//
//	[storage]
//	backend = "file"   # file, sqlite or memory
//
//	[network]
//	offline_mode = false
//
// The API key is best supplied through AZURE_OPENAI_API_KEY (or a .env file)
// rather than the config file.
package config
