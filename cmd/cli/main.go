package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/chain"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/config"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/fee"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/genesis"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/marketplace"
	"github.com/ZilDuck/nft-escrow-marketplace/pkg/zil"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	config.Init()

	app := &cli.App{
		Name:  "market",
		Usage: "escrow marketplace tools",
		Commands: []*cli.Command{
			{
				Name:   "quote",
				Usage:  "split a price into the treasury fee and the seller proceeds",
				Action: quote,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "price", Required: true, Usage: "price in whole currency units"},
					&cli.Uint64Flag{Name: "fee", Value: marketplace.DefaultFeeBps, Usage: "fee rate in basis points"},
				},
			},
			{
				Name:      "run",
				Usage:     "build a devnet from a genesis file and replay its steps",
				ArgsUsage: "<genesis.yaml>",
				Action:    run,
			},
			{
				Name:      "address",
				Usage:     "print an address in hex and bech32",
				ArgsUsage: "<address>",
				Action:    address,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		zap.L().With(zap.Error(err)).Fatal("CLI failed")
	}
}

func quote(c *cli.Context) error {
	decimals := config.Get().Currency.Decimals
	symbol := config.Get().Currency.Symbol

	price, err := entity.ParseAmount(c.String("price"), decimals)
	if err != nil {
		return err
	}

	feeAmount, proceeds, err := fee.Compute(price, c.Uint64("fee"))
	if err != nil {
		return err
	}

	fmt.Printf("price:    %s %s\n", entity.FormatAmount(price, decimals), symbol)
	fmt.Printf("fee:      %s %s\n", entity.FormatAmount(feeAmount, decimals), symbol)
	fmt.Printf("proceeds: %s %s\n", entity.FormatAmount(proceeds, decimals), symbol)

	return nil
}

func run(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("expected a single genesis file", 1)
	}

	g, err := genesis.Load(c.Args().First())
	if err != nil {
		return err
	}

	ctx := context.Background()
	devnet, err := g.Build(ctx, chain.New(), nil)
	if err != nil {
		return err
	}

	results, runErr := g.Run(ctx, devnet)
	for _, r := range results {
		outcome := "ok"
		if r.Err != nil {
			outcome = "reverted: " + r.Err.Error()
		}
		fmt.Printf("%3d  %-40s %s\n", r.Index, r.Step, outcome)
	}
	if runErr != nil {
		return runErr
	}

	symbol := config.Get().Currency.Symbol
	fmt.Println()
	for _, a := range g.Accounts {
		addr, err := g.Resolve(a.Address)
		if err != nil {
			return err
		}
		balance := devnet.Ledger.BalanceOf(ctx, addr)
		fmt.Printf("%-12s %s %s %s\n", a.Name, addr.Hex(), entity.FormatAmount(balance, devnet.Decimals), symbol)
	}
	for _, listing := range devnet.Market.Listings(ctx) {
		fmt.Printf("listed       %s by %s at %s %s\n",
			listing.Key(), listing.Seller.Hex(), entity.FormatAmount(listing.Price, devnet.Decimals), symbol)
	}

	return nil
}

func address(c *cli.Context) error {
	addr, ok := zil.ParseAddress(c.Args().First())
	if !ok {
		return cli.Exit("invalid address", 1)
	}

	fmt.Println(addr.Hex())
	fmt.Println(zil.ToBech32(addr))

	return nil
}
