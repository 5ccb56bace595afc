package registry

// Trades settle against Polymarket's CTF exchange on Polygon mainnet, funded
// with bridged USDC. These are the only contracts the agent ever references;
// it constructs approval calldata for the user's wallet to sign and nothing
// else.
const (
	PolygonChainID int64 = 137

	// USDC.e (bridged) on Polygon.
	USDCAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	// Polymarket CTF Exchange, the approval spender.
	CTFExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"

	// USDC uses 6 decimals; trade amounts are converted to base units
	// before encoding.
	USDCDecimals = 6
)

// ERC20MinimalABI covers the single approve call the trade builder packs.
const ERC20MinimalABI = `[
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`
