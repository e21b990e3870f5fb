package config_test

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/nebula-sheets/pkg/config"
)

func ExampleNewConnectorConfig() {
	cfg := config.NewConnectorConfig("orders")
	cfg.Sheets.GooglePrivateKey = "env:GOOGLE_PRIVATE_KEY"
	cfg.Sheets.GoogleClientEmail = "svc@project.iam.gserviceaccount.com"
	cfg.Reliability.BackoffMin = 500 * time.Millisecond

	fmt.Println(cfg.Validate() == nil)
	fmt.Println(cfg.Sheets.GooglePrivateKey)
	// Output:
	// true
	// [REDACTED]
}

func ExampleParse() {
	cfg, err := config.Parse([]byte(`
name: demo
sheets:
  google_private_key: literal-key
  google_client_email: svc@example.com
source:
  type: file
  file_path: /var/lib/rows.jsonl
reliability:
  backoff_max: 1h
`))
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println(cfg.Source.Type, cfg.Reliability.BackoffMin, cfg.Reliability.BackoffMax)
	// Output: file 1s 1h0m0s
}
