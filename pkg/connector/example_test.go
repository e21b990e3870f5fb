package connector_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/ajitpratap0/nebula-sheets/pkg/config"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/base"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/sources/jsonl"
	"github.com/ajitpratap0/nebula-sheets/pkg/models"
)

// Example reads records from a line-delimited source and decodes them the
// way the connector loop does, skipping lines that are not records.
func Example() {
	input := strings.Join([]string{
		`{"range":"Sheet1!A1","values":[["a",1],["b",2]],"major_dimension":"ROWS","spreadsheet_id":"S1"}`,
		`not a record`,
		`{"range":"Sheet1!C1","values":[["c"]],"major_dimension":"COLUMNS","spreadsheet_id":"S1"}`,
	}, "\n")

	ctx := context.Background()
	source := jsonl.NewJSONLSource("example", strings.NewReader(input), 0, nil)
	defer source.Close()

	for {
		msg, err := source.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}

		record, err := models.DecodeRecord(msg.Payload)
		if err != nil {
			fmt.Printf("line %s skipped\n", msg.Offset)
		} else {
			fmt.Printf("line %s: %s\n", msg.Offset, record)
		}
		_ = source.Ack(ctx, msg)
	}

	// Output:
	// line 1: S1!Sheet1!A1 (2 x ROWS)
	// line 2 skipped
	// line 3: S1!Sheet1!C1 (1 x COLUMNS)
}

// ExampleReconnectPolicy shows the default reconnect schedule.
func ExampleReconnectPolicy() {
	policy := base.NewReconnectPolicy(config.DefaultBackoffMin, config.DefaultBackoffMax, 0)
	fmt.Println(policy.Preview(6))

	// Output:
	// [1s 2s 4s 8s 16s 32s]
}
