package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Attempts prints recent purchase attempts, newest first.
func (a *App) Attempts(ctx context.Context, opts AttemptsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot list attempts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentAttempts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no attempts recorded")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPartition\tItem\tName\tPrice\tQty\tOutcome\tCode\tMessage")

	for _, record := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d/%d\t%s\t%d\t%d\t%s\t%d\t%s\n",
			record.AttemptedAt.UTC().Format(time.RFC3339),
			record.Key.Partition,
			record.Key.ItemID,
			record.Key.SubID,
			record.Name,
			record.UnitPrice,
			record.Quantity,
			record.Outcome,
			record.RemoteCode,
			sanitizeInline(record.RemoteMessage),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
