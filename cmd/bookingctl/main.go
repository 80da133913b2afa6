// Command bookingctl is the operator tool for the booking service: schema
// migration, event setup and the refund review queue.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"booking-service/config"
	"booking-service/internal/models"
	"booking-service/internal/store"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02T15:04"

func main() {
	rootCmd := &cobra.Command{
		Use:           "bookingctl",
		Short:         "Operate the masterclass booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(refundReviewCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore connects with the service's DATABASE_URL.
func openStore() (*store.Store, error) {
	cfg := config.Load()
	return store.NewStore(cfg.Database.URL)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema applied")
			return nil
		},
	}
}

func eventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage scheduled events",
	}
	cmd.AddCommand(eventCreateCmd())
	cmd.AddCommand(eventShowCmd())
	return cmd
}

// eventFlags holds the raw flag values of "event create".
type eventFlags struct {
	title             string
	city              string
	venue             string
	start             string
	end               string
	capacity          int
	price             string
	earlyBirdPrice    string
	earlyBirdDeadline string
	groupDiscount     string
	groupMinimum      int
	currency          string
	draft             bool
}

func eventCreateCmd() *cobra.Command {
	var f eventFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scheduled event",
		Example: `  bookingctl event create --title "Go Masterclass" --city Berlin --venue Kulturbrauerei \
    --start 2026-11-20T09:00 --end 2026-11-21T17:00 --capacity 24 --price 1200 \
    --early-bird-price 990 --early-bird-deadline 2026-09-30 --group-discount 10 --group-minimum 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := f.build()
			if err != nil {
				return err
			}

			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.CreateScheduledEvent(cmd.Context(), ev); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created event %d (%s), %d seats, %s\n", ev.ID, ev.Slug, ev.TotalCapacity, ev.Status)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.title, "title", "", "event title")
	flags.StringVar(&f.city, "city", "", "city")
	flags.StringVar(&f.venue, "venue", "", "venue")
	flags.StringVar(&f.start, "start", "", "start, "+dateLayout+" in UTC")
	flags.StringVar(&f.end, "end", "", "end, "+dateLayout+" in UTC")
	flags.IntVar(&f.capacity, "capacity", 0, "total seats")
	flags.StringVar(&f.price, "price", "", "regular price per seat")
	flags.StringVar(&f.earlyBirdPrice, "early-bird-price", "", "early-bird price per seat")
	flags.StringVar(&f.earlyBirdDeadline, "early-bird-deadline", "", "last day of early-bird pricing, YYYY-MM-DD")
	flags.StringVar(&f.groupDiscount, "group-discount", "0", "group discount in percent")
	flags.IntVar(&f.groupMinimum, "group-minimum", 0, "minimum seats for group pricing, 0 disables it")
	flags.StringVar(&f.currency, "currency", "", "currency, defaults to CURRENCY")
	flags.BoolVar(&f.draft, "draft", false, "create unpublished")
	for _, name := range []string{"title", "city", "start", "end", "capacity", "price"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (f *eventFlags) build() (*models.ScheduledEvent, error) {
	start, err := time.ParseInLocation(dateLayout, f.start, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.ParseInLocation(dateLayout, f.end, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid --end: %w", err)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("--end must be after --start")
	}
	if f.capacity <= 0 {
		return nil, fmt.Errorf("--capacity must be positive")
	}

	price, err := decimal.NewFromString(f.price)
	if err != nil || price.IsNegative() {
		return nil, fmt.Errorf("invalid --price %q", f.price)
	}
	discount, err := decimal.NewFromString(f.groupDiscount)
	if err != nil || discount.IsNegative() || discount.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("invalid --group-discount %q", f.groupDiscount)
	}

	currency := f.currency
	if currency == "" {
		currency = config.Load().Business.Currency
	}

	ev := &models.ScheduledEvent{
		Slug:                 slug.Make(fmt.Sprintf("%s %s %s", f.title, f.city, start.Format("2006-01-02"))),
		Title:                f.title,
		City:                 f.city,
		Venue:                f.venue,
		StartDate:            start,
		EndDate:              end,
		TotalCapacity:        f.capacity,
		Status:               models.EventStatusPublished,
		RegularPrice:         price.RoundBank(2),
		GroupDiscountPercent: discount,
		GroupMinimum:         f.groupMinimum,
		Currency:             strings.ToUpper(currency),
	}
	if f.draft {
		ev.Status = models.EventStatusDraft
	}

	if f.earlyBirdPrice != "" {
		eb, err := decimal.NewFromString(f.earlyBirdPrice)
		if err != nil || eb.IsNegative() {
			return nil, fmt.Errorf("invalid --early-bird-price %q", f.earlyBirdPrice)
		}
		deadline, err := time.ParseInLocation("2006-01-02", f.earlyBirdDeadline, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("--early-bird-price needs a valid --early-bird-deadline: %w", err)
		}
		ev.EarlyBirdPrice = decimal.NewNullDecimal(eb.RoundBank(2))
		ev.EarlyBirdDeadline = &deadline
	}
	return ev, nil
}

func eventShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|slug>",
		Short: "Show an event with its live seat count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			ev, err := lookupEvent(cmd.Context(), db, args[0])
			if err != nil {
				return err
			}
			held, err := db.HeldSeats(cmd.Context(), ev.ID)
			if err != nil {
				return err
			}

			out := struct {
				*models.ScheduledEvent
				HeldSeats int `json:"held_seats"`
			}{ev, held}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func lookupEvent(ctx context.Context, db *store.Store, arg string) (*models.ScheduledEvent, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return db.GetScheduledEvent(ctx, id)
	}
	return db.GetScheduledEventBySlug(ctx, arg)
}

func refundReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refund-review",
		Short: "Inspect cancelled bookings that were paid",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List bookings awaiting a refund",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			bookings, err := db.ListRefundReview(cmd.Context())
			if err != nil {
				return err
			}
			if len(bookings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No bookings awaiting refund")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REFERENCE\tCONTACT\tTOTAL\tPAYMENT\tCANCELLED")
			for _, b := range bookings {
				cancelled := ""
				if b.CancelledAt != nil {
					cancelled = b.CancelledAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%s\n",
					b.Reference, b.ContactEmail, b.Total.StringFixed(2), b.Currency, b.PaymentStatus, cancelled)
			}
			return w.Flush()
		},
	})
	return cmd
}
