package registry

// ABI fragments used by the session and trade executor.
const (
	ERC20MinimalABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
	]`

	EscrowABI = `[
		{"name":"getTrade","type":"function","stateMutability":"view","inputs":[{"name":"tradeId","type":"uint256"}],"outputs":[{"name":"seller","type":"address"},{"name":"unitCost","type":"uint256"},{"name":"totalQuantity","type":"uint256"},{"name":"remainingQuantity","type":"uint256"},{"name":"active","type":"bool"}]},
		{"name":"buyTrade","type":"function","stateMutability":"nonpayable","inputs":[{"name":"tradeId","type":"uint256"},{"name":"quantity","type":"uint256"},{"name":"logisticsProvider","type":"address"},{"name":"token","type":"address"},{"name":"tokenAmount","type":"uint256"},{"name":"totalAmount","type":"uint256"}],"outputs":[]},
		{"name":"buyCrossChainTrade","type":"function","stateMutability":"payable","inputs":[{"name":"tradeId","type":"uint256"},{"name":"quantity","type":"uint256"},{"name":"logisticsProvider","type":"address"},{"name":"token","type":"address"},{"name":"tokenAmount","type":"uint256"},{"name":"totalAmount","type":"uint256"},{"name":"destinationChainSelector","type":"uint64"},{"name":"destinationContract","type":"address"},{"name":"payFeesInNative","type":"bool"}],"outputs":[]},
		{"name":"getCrossChainFee","type":"function","stateMutability":"view","inputs":[{"name":"destinationChainSelector","type":"uint64"},{"name":"destinationContract","type":"address"},{"name":"totalAmount","type":"uint256"},{"name":"payFeesInNative","type":"bool"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"PurchaseCreated","type":"event","inputs":[{"name":"purchaseId","type":"bytes32","indexed":true},{"name":"tradeId","type":"uint256","indexed":true},{"name":"buyer","type":"address","indexed":true},{"name":"quantity","type":"uint256","indexed":false}]},
		{"name":"CrossChainMessageSent","type":"event","inputs":[{"name":"messageId","type":"bytes32","indexed":true},{"name":"destinationChainSelector","type":"uint64","indexed":false}]}
	]`
)
