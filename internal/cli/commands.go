package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/service"
	"posbackoffice/backend/internal/store"
)

const commandTimeout = 30 * time.Second

type migrator interface {
	Migrate(ctx context.Context) error
}

// withService opens the store, builds a service and runs fn with an
// operator actor on the context.
func (o *RootOptions) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service, repo store.Repository) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	repo, closeFn, err := o.open(ctx, o.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() { _ = closeFn() }()

	saleCache, closeCache := o.connect(ctx)
	defer func() { _ = closeCache() }()

	svc := service.New(repo, saleCache, nil, service.Options{VoidMinLevel: o.VoidLevel})
	ctx = service.WithActor(ctx, domain.Actor{Username: o.Operator, Level: o.VoidLevel})
	return fn(ctx, svc, repo)
}

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the sales schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, _ *service.Service, repo store.Repository) error {
				m, ok := repo.(migrator)
				if !ok {
					return writeResult(cmd.OutOrStdout(), opts.Format, map[string]bool{"migrated": false}, "store has no schema to migrate")
				}
				if err := m.Migrate(ctx); err != nil {
					return WrapExitError(ExitCommandError, "migration failed", err)
				}
				return writeResult(cmd.OutOrStdout(), opts.Format, map[string]bool{"migrated": true}, "schema applied")
			})
		},
	}
}

func NewVoidSaleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "void-sale <sale-id>",
		Short: "Void a whole sale, restocking items and refunding its tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			saleID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withService(cmd, func(ctx context.Context, svc *service.Service, _ store.Repository) error {
				resp, err := svc.VoidSale(ctx, saleID)
				if err != nil {
					return operationError("void sale failed", err)
				}
				return writeResult(cmd.OutOrStdout(), opts.Format, resp, fmt.Sprintf("sale %d voided", saleID))
			})
		},
	}
}

func NewVoidItemCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "void-item <sale-item-id>",
		Short: "Void one unit of a sale line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			saleItemID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withService(cmd, func(ctx context.Context, svc *service.Service, _ store.Repository) error {
				resp, err := svc.VoidSaleItem(ctx, saleItemID)
				if err != nil {
					return operationError("void item failed", err)
				}
				return writeResult(cmd.OutOrStdout(), opts.Format, resp, fmt.Sprintf("sale item %d voided", saleItemID))
			})
		},
	}
}

func NewVoidOrderCommand(opts *RootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "void-order <order-id>",
		Short: "Void an order and all of its lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := uuid.Parse(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "order id must be a uuid", err)
			}
			return opts.withService(cmd, func(ctx context.Context, svc *service.Service, _ store.Repository) error {
				resp, err := svc.VoidOrder(ctx, orderID, domain.VoidOrderRequest{Reason: reason})
				if err != nil {
					return operationError("void order failed", err)
				}
				return writeResult(cmd.OutOrStdout(), opts.Format, resp.Order,
					fmt.Sprintf("order %s voided (%d lines): %s", orderID, len(resp.Order.Lines), reason))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "void reason (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func NewStockCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stock <item-id>",
		Short: "Show the stock level of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withService(cmd, func(ctx context.Context, svc *service.Service, _ store.Repository) error {
				item, err := svc.GetStock(ctx, itemID)
				if err != nil {
					return operationError("stock lookup failed", err)
				}
				return writeResult(cmd.OutOrStdout(), opts.Format, item, fmt.Sprintf("%d %s: %d", item.ID, item.Name, item.Stock))
			})
		},
	}
}

func NewTabCommand(opts *RootOptions) *cobra.Command {
	var adjust string
	cmd := &cobra.Command{
		Use:   "tab <tab-id>",
		Short: "Show a tab balance, optionally adjusting it first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tabID, err := parseID(args[0])
			if err != nil {
				return err
			}
			var delta *decimal.Decimal
			if adjust != "" {
				parsed, err := decimal.NewFromString(adjust)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --adjust amount", err)
				}
				delta = &parsed
			}
			return opts.withService(cmd, func(ctx context.Context, svc *service.Service, _ store.Repository) error {
				var (
					tab domain.Tab
					err error
				)
				if delta != nil {
					tab, err = svc.AdjustTab(ctx, tabID, *delta)
				} else {
					tab, err = svc.GetTab(ctx, tabID)
				}
				if err != nil {
					return operationError("tab operation failed", err)
				}
				return writeResult(cmd.OutOrStdout(), opts.Format, tab, fmt.Sprintf("%d %s: %s", tab.ID, tab.Name, tab.Amount.StringFixed(2)))
			})
		},
	}
	cmd.Flags().StringVar(&adjust, "adjust", "", "signed amount to add to the balance before showing it")
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid id %q: must be a positive integer", raw))
	}
	return id, nil
}
