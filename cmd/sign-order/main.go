package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/stoplimit/params"
	"github.com/uhyunpark/stoplimit/pkg/api"
	"github.com/uhyunpark/stoplimit/pkg/app/core/order"
	"github.com/uhyunpark/stoplimit/pkg/app/venue"
	"github.com/uhyunpark/stoplimit/pkg/crypto"
)

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func bigArg(name, s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		fail("invalid -%s %q", name, s)
	}
	return v
}

func addrArg(name, s string) common.Address {
	if !common.IsHexAddress(s) {
		fail("invalid -%s %q", name, s)
	}
	return common.HexToAddress(s)
}

func printJSON(title string, v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail("marshal %s: %v", title, err)
	}
	fmt.Printf("%s:\n%s\n\n", title, out)
}

func main() {
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		fail("config: %v", err)
	}
	now := time.Now().Unix()

	var (
		key        = flag.String("key", os.Getenv("MAKER_KEY"), "maker private key (hex); a fresh key is generated when empty")
		engineAddr = flag.String("engine", cfg.Engine.Address.Hex(), "engine address (EIP-712 verifying contract)")
		chainID    = flag.Int64("chain-id", cfg.Engine.ChainID, "chain id")
		tokenIn    = flag.String("token-in", "", "token the maker sells")
		tokenOut   = flag.String("token-out", "", "token the maker buys")
		amountIn   = flag.String("amount-in", "", "total tokenIn, base units")
		amountOut  = flag.String("amount-out", "", "minimum tokenOut for the full amountIn, base units")
		recipient  = flag.String("recipient", "", "receives tokenOut; defaults to the maker")
		start      = flag.Int64("start", now-60, "start time, unix seconds (inclusive)")
		end        = flag.Int64("end", now+3600, "end time, unix seconds (exclusive)")
		stop       = flag.String("stop", "0", "stop price, 1e18 scaled")
		oracleAddr = flag.String("oracle", "", "price oracle; empty disables the stop check")
		oracleData = flag.String("oracle-data", "", "raw oracle data (0x hex); defaults to the encoded token pair")
		amount     = flag.String("fill", "", "amount of tokenIn to fill in this request; defaults to amount-in")
		filler     = flag.String("filler", "", "filler address to put in the request")
		swapTo     = flag.String("swap-to", "", "encode swap-filler data that sends profit here")
		minProfit  = flag.String("min-profit", "0", "swap-filler minimum profit")
		cancel     = flag.Bool("cancel", false, "print a signed cancellation instead of a fill request")
	)
	flag.Parse()

	if *tokenIn == "" || *tokenOut == "" || *amountIn == "" || *amountOut == "" {
		flag.Usage()
		os.Exit(2)
	}

	// Step 1: Generate or load key
	var signer *crypto.Signer
	if *key == "" {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	} else {
		signer, err = crypto.FromPrivateKeyHex(*key)
	}
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("Maker: %s\n", signer.Address().Hex())
	if *key == "" {
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Println()

	// Step 2: Build order
	in, out := addrArg("token-in", *tokenIn), addrArg("token-out", *tokenOut)
	args := order.Args{
		Maker:     signer.Address(),
		AmountIn:  bigArg("amount-in", *amountIn),
		AmountOut: bigArg("amount-out", *amountOut),
		Recipient: signer.Address(),
		StartTime: big.NewInt(*start),
		EndTime:   big.NewInt(*end),
		StopPrice: bigArg("stop", *stop),
	}
	if *recipient != "" {
		args.Recipient = addrArg("recipient", *recipient)
	}
	if *oracleAddr != "" {
		args.OracleAddress = addrArg("oracle", *oracleAddr)
		if *oracleData != "" {
			if args.OracleData, err = hexutil.Decode(*oracleData); err != nil {
				fail("invalid -oracle-data: %v", err)
			}
		} else if args.OracleData, err = venue.EncodePair(in, out); err != nil {
			fail("encode pair: %v", err)
		}
	}
	if err := args.Validate(); err != nil {
		fail("%v", err)
	}
	o := args.WithTokens(in, out)

	fmt.Println("Order Details:")
	fmt.Printf("  Sell: %s of %s\n", args.AmountIn, in.Hex())
	fmt.Printf("  For:  at least %s of %s\n", args.AmountOut, out.Hex())
	fmt.Printf("  Window: [%s, %s)\n", time.Unix(*start, 0).UTC().Format(time.RFC3339), time.Unix(*end, 0).UTC().Format(time.RFC3339))
	fmt.Printf("  Stop: %s via %s\n\n", args.StopPrice, args.OracleAddress.Hex())

	// Step 3: Sign with EIP-712
	eip712 := crypto.NewEIP712Signer(crypto.NewDomain(addrArg("engine", *engineAddr), crypto.FixedChain(*chainID)))
	digest, sig, err := eip712.SignOrder(signer, o)
	if err != nil {
		fail("signing: %v", err)
	}
	fmt.Printf("Digest: %s\n", digest.Hex())
	fmt.Printf("Signature: %s\n\n", hexutil.Encode(sig.Bytes()))

	if !crypto.Verify(digest, sig, signer.Address()) {
		fail("signature did not verify")
	}

	if *cancel {
		csig, err := eip712.SignCancel(signer, digest)
		if err != nil {
			fail("signing cancel: %v", err)
		}
		printJSON("Cancel Request (POST /api/v1/orders/cancel)", api.CancelRequest{
			TokenIn:   in.Hex(),
			TokenOut:  out.Hex(),
			Order:     order.FromArgs(&args),
			Signature: hexutil.Encode(csig.Bytes()),
		})
		return
	}

	// Step 4: Fill request
	fill := args.AmountIn
	if *amount != "" {
		fill = bigArg("fill", *amount)
	}
	req := api.FillRequest{
		TokenIn:  in.Hex(),
		TokenOut: out.Hex(),
		Filler:   *filler,
		Request:  order.FromRequest(&order.FillRequest{Args: args, Amount: fill, Signature: sig}),
	}
	if *swapTo != "" {
		data, err := venue.EncodeSwapData(venue.SwapData{
			Path:       []common.Address{in, out},
			MinimumOut: bigArg("min-profit", *minProfit),
			To:         addrArg("swap-to", *swapTo),
		})
		if err != nil {
			fail("encode swap data: %v", err)
		}
		req.FillerData = hexutil.Encode(data)
	}
	printJSON("Fill Request (POST /api/v1/fills)", req)

	typed, err := eip712.TypedDataJSON(o)
	if err != nil {
		fail("typed data: %v", err)
	}
	fmt.Println("Typed Data (eth_signTypedData_v4):")
	fmt.Println(strings.TrimSpace(string(typed)))
}
