package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/emporia/api"
)

var productsCmd = &cobra.Command{
	Use:   "products [slug]",
	Short: "List the catalog, or show one product",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			p, err := app.client.Product(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printProduct(out, p)
			return nil
		}
		products, err := app.client.Products(cmd.Context())
		if err != nil {
			return err
		}
		printProducts(out, products)
		return nil
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List catalog categories with their product counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			categories []api.Category
			products   []api.Product
		)
		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() (err error) {
			categories, err = app.client.Categories(ctx)
			return err
		})
		g.Go(func() (err error) {
			products, err = app.client.Products(ctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}
		counts := make(map[int64]int, len(categories))
		for _, p := range products {
			if p.Category != nil {
				counts[*p.Category]++
			}
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSLUG\tNAME\tPRODUCTS")
		for _, c := range categories {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", c.ID, c.Slug, c.Name, counts[c.ID])
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(productsCmd, categoriesCmd)
}

func printProducts(out io.Writer, products []api.Product) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSLUG\tNAME\tPRICE\tSTOCK")
	for _, p := range products {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", p.ID, p.Slug, p.Name, p.Price.StringFixed(2), p.Stock)
	}
	tw.Flush()
}

func printProduct(out io.Writer, p *api.Product) {
	fmt.Fprintf(out, "%s (%s)\n", p.Name, p.Slug)
	fmt.Fprintf(out, "ID:        %d\n", p.ID)
	fmt.Fprintf(out, "Price:     %s\n", p.Price.StringFixed(2))
	fmt.Fprintf(out, "Stock:     %d\n", p.Stock)
	if p.CategoryName != "" {
		fmt.Fprintf(out, "Category:  %s\n", p.CategoryName)
	}
	if p.SellerName != "" {
		fmt.Fprintf(out, "Seller:    %s\n", p.SellerName)
	}
	if p.Description != "" {
		fmt.Fprintf(out, "\n%s\n", p.Description)
	}
}
