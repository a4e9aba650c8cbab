package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jmcleod/emporia/api"
	"github.com/jmcleod/emporia/checkout"
)

var shipping api.Shipping

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Place an order for the cart and pay for it",
	Long: `Creates an order from the cart, starts a payment and prompts for the
provider's payment id and signature. Leaving the payment id empty cancels the
payment and keeps the cart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		in := bufio.NewReader(cmd.InOrStdin())
		if shipping.Email == "" {
			if id, ok := app.sessions.CurrentIdentity(); ok {
				shipping.Email = id.Email
			}
		}
		printCart(out, app.cart)
		fmt.Fprintln(out)

		a, err := app.checkout.Run(cmd.Context(), shipping, &terminalWidget{in: in, out: out})
		for err != nil && a != nil && a.Reason() == checkout.ReasonVerification && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(out, "Verification failed: %v\n", err)
			answer, perr := prompt(out, in, "Retry verification? [y/N] ")
			if perr != nil || !strings.EqualFold(answer, "y") {
				break
			}
			err = app.checkout.RetryVerification(cmd.Context(), a)
		}
		if errors.Is(err, checkout.ErrPaymentCancelled) {
			fmt.Fprintln(out, "Payment cancelled; the cart was kept.")
			return nil
		}
		if err != nil {
			return describe(err)
		}
		paid := a.Paid()
		fmt.Fprintf(out, "Order #%d paid", paid.ID)
		if !paid.TotalCost.IsZero() {
			fmt.Fprintf(out, " (%s)", paid.TotalCost.StringFixed(2))
		}
		fmt.Fprintln(out, ". Thank you!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkoutCmd)
	f := checkoutCmd.Flags()
	f.StringVar(&shipping.FirstName, "first-name", "", "Shipping first name")
	f.StringVar(&shipping.LastName, "last-name", "", "Shipping last name")
	f.StringVar(&shipping.Email, "email", "", "Contact email (default: the session email)")
	f.StringVar(&shipping.Address, "address", "", "Street address")
	f.StringVar(&shipping.City, "city", "", "City")
	f.StringVar(&shipping.PostalCode, "postal-code", "", "Postal code")
}

// terminalWidget stands in for the hosted payment widget: it shows the
// payment intent and reads the provider's success values from the terminal.
type terminalWidget struct {
	in  *bufio.Reader
	out io.Writer
}

func (w *terminalWidget) Open(ctx context.Context, intent api.PaymentIntent, cb *checkout.Callback) error {
	amount := decimal.New(intent.Amount, -2)
	fmt.Fprintf(w.out, "Payment %s: %s %s\n", intent.ProviderOrderID, amount.StringFixed(2), intent.Currency)
	if intent.Key != "" {
		fmt.Fprintf(w.out, "Merchant key: %s\n", intent.Key)
	}

	paymentID, err := prompt(w.out, w.in, "Payment id (empty to cancel): ")
	if err != nil {
		return err
	}
	if paymentID == "" {
		cb.Dismiss()
		return nil
	}
	signature, err := prompt(w.out, w.in, "Signature: ")
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	cb.Succeed(checkout.Confirmation{
		ProviderOrderID:   intent.ProviderOrderID,
		ProviderPaymentID: paymentID,
		Signature:         signature,
	})
	return nil
}
