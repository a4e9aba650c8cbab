package cmd

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/emporia/cart"
)

var addQuantity int

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Show and edit the persisted cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		printCart(cmd.OutOrStdout(), app.cart)
		return nil
	},
}

var cartAddCmd = &cobra.Command{
	Use:   "add <slug>",
	Short: "Add a product to the cart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := app.client.Product(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := app.cart.AddItem(*p, addQuantity); err != nil {
			return err
		}
		printCart(cmd.OutOrStdout(), app.cart)
		return nil
	},
}

var cartRemoveCmd = &cobra.Command{
	Use:   "remove <product-id>",
	Short: "Remove a line from the cart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProductID(args[0])
		if err != nil {
			return err
		}
		if err := app.cart.RemoveItem(id); err != nil {
			return err
		}
		printCart(cmd.OutOrStdout(), app.cart)
		return nil
	},
}

var cartSetCmd = &cobra.Command{
	Use:   "set <product-id> <quantity>",
	Short: "Replace a line's quantity; zero or less removes it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProductID(args[0])
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid quantity %q", args[1])
		}
		if err := app.cart.UpdateQuantity(id, n); err != nil {
			return err
		}
		printCart(cmd.OutOrStdout(), app.cart)
		return nil
	},
}

var cartClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.cart.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cart cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cartCmd)
	cartCmd.AddCommand(cartAddCmd, cartRemoveCmd, cartSetCmd, cartClearCmd)
	cartAddCmd.Flags().IntVarP(&addQuantity, "quantity", "q", 1, "Quantity to add")
}

func parseProductID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", s)
	}
	return id, nil
}

func printCart(out io.Writer, c *cart.Manager) {
	lines := c.Lines()
	if len(lines) == 0 {
		fmt.Fprintln(out, "Cart is empty")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tQTY\tSUBTOTAL")
	for _, l := range lines {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", l.ID, l.Name, l.Price.StringFixed(2), l.Quantity, l.Subtotal().StringFixed(2))
	}
	fmt.Fprintf(tw, "\t\t\t%d\t%s\n", c.TotalCount(), c.TotalValue().StringFixed(2))
	tw.Flush()
}
