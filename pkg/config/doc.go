// Package config provides configuration management for the nebula-sheets connector.
//
// # Key Features
//
// - ConnectorConfig: one structure describing source, sink and reconnect policy
// - Structured sections: Sheets, Source, Reliability, Timeouts, Observability
// - Environment variable substitution with ${VAR_NAME} and ${VAR_NAME:-default}
// - Secret values resolved lazily from literals, env:NAME or file:/path
// - Defaults applied before the YAML document is decoded, strict field checking
//
// # Usage
//
//	cfg, err := config.Load("connector.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// # Example file
//
//	name: orders-to-sheet
//	type: google-sheets
//	sheets:
//	  google_private_key: env:GOOGLE_PRIVATE_KEY
//	  google_client_email: ${GOOGLE_CLIENT_EMAIL}
//	  google_token_url: https://oauth2.googleapis.com/token
//	source:
//	  type: kafka
//	  kafka:
//	    brokers: [localhost:9092]
//	    topic: sheet-rows
//	    group_id: sheets-connector
//	reliability:
//	  backoff_min: 1s
//	  backoff_max: 24h
//
// Secrets are deliberately not resolved by Load or Validate. The sink resolves
// them on every connect attempt so a rotated key is used on the next reconnect.
package config
