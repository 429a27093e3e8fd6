package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/aptostx/service/db"
	"github.com/brojonat/aptostx/service/txn"
	"github.com/urfave/cli/v2"
)

// getStore connects to the database named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}
	pool, err := db.Connect(c.Context, dbURL)
	if err != nil {
		return nil, nil, err
	}
	return db.NewStore(pool, nil), pool.Close, nil
}

type submissionRow struct {
	Hash           string     `json:"hash"`
	Sender         string     `json:"sender"`
	SequenceNumber uint64     `json:"sequence_number"`
	Authenticator  string     `json:"authenticator"`
	Secondaries    []string   `json:"secondaries,omitempty"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Outcome        string     `json:"outcome"`
	Success        *bool      `json:"success,omitempty"`
	VMStatus       string     `json:"vm_status,omitempty"`
	Version        uint64     `json:"version,omitempty"`
	Error          *string    `json:"error,omitempty"`
	RecordedAt     *time.Time `json:"recorded_at,omitempty"`
}

func toRow(rec *db.SubmissionRecord) submissionRow {
	row := submissionRow{
		Hash:           rec.Hash,
		Sender:         rec.Sender.String(),
		SequenceNumber: rec.SequenceNumber,
		Authenticator:  rec.Authenticator,
		SubmittedAt:    rec.SubmittedAt,
		ExpiresAt:      rec.ExpiresAt,
		Outcome:        "unknown",
	}
	for _, a := range rec.Secondaries {
		row.Secondaries = append(row.Secondaries, a.String())
	}
	if o := rec.Outcome; o != nil {
		row.Outcome = o.Outcome.String()
		row.Success = &o.Success
		row.VMStatus = o.VMStatus
		row.Version = o.Version
		row.Error = o.Error
		row.RecordedAt = &o.RecordedAt
	}
	return row
}

func listSubmissionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-submissions",
		Usage:   "List a sender's submissions, most recent first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "sender",
				Aliases:  []string{"s"},
				Usage:    "Sender address",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of submissions",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Skip this many submissions",
			},
		},
		Action: func(c *cli.Context) error {
			sender, err := txn.ParseAddress(c.String("sender"))
			if err != nil {
				return err
			}
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			recs, err := store.ListSubmissionsBySender(c.Context, db.ListSubmissionsParams{
				Sender: sender,
				Limit:  int32(c.Int("limit")),
				Offset: int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list submissions: %w", err)
			}
			rows := make([]submissionRow, len(recs))
			for i, rec := range recs {
				rows[i] = toRow(rec)
			}

			return output(c, rows, func(out io.Writer) {
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "HASH\tSEQ\tAUTH\tOUTCOME\tSUBMITTED")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
						r.Hash,
						r.SequenceNumber,
						r.Authenticator,
						r.Outcome,
						r.SubmittedAt.Format(time.RFC3339),
					)
				}
				w.Flush()
				fmt.Fprintf(os.Stderr, "\nTotal: %d submissions\n", len(rows))
			})
		},
	}
}

func getSubmissionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-submission",
		Usage:     "Show a recorded submission and its outcome",
		Aliases:   []string{"get"},
		ArgsUsage: "<hash>",
		Action: func(c *cli.Context) error {
			hash, err := hexArg(c, "transaction hash")
			if err != nil {
				return err
			}
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			rec, err := store.GetSubmission(c.Context, hash)
			if err != nil {
				return fmt.Errorf("failed to get submission: %w", err)
			}
			row := toRow(rec)
			return output(c, row, func(w io.Writer) {
				fmt.Fprintf(w, "Hash:          %s\n", row.Hash)
				fmt.Fprintf(w, "Sender:        %s\n", row.Sender)
				fmt.Fprintf(w, "Sequence:      %d\n", row.SequenceNumber)
				fmt.Fprintf(w, "Authenticator: %s\n", row.Authenticator)
				for i, s := range row.Secondaries {
					fmt.Fprintf(w, "Secondary %d:   %s\n", i, s)
				}
				fmt.Fprintf(w, "Submitted:     %s\n", row.SubmittedAt.Format(time.RFC3339))
				fmt.Fprintf(w, "Expires:       %s\n", row.ExpiresAt.Format(time.RFC3339))
				fmt.Fprintf(w, "Outcome:       %s\n", row.Outcome)
				if row.VMStatus != "" {
					fmt.Fprintf(w, "VMStatus:      %s\n", row.VMStatus)
				}
				if row.Error != nil {
					fmt.Fprintf(w, "Error:         %s\n", *row.Error)
				}
			})
		},
	}
}
