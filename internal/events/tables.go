package events

// Envelope and companion log schemas. Their topic0 values are what the range
// processors filter on.
var (
	EventAppended = NewSchema("EventAppended",
		p("eventSeq", "uint256"),
		p("prevTip", "bytes32"),
		p("newTip", "bytes32"),
		p("eventSignature", "bytes32"),
		p("abiEncodedEventData", "bytes"),
	)

	IsEventChainTipCalled = NewSchema("IsEventChainTipCalled",
		p("caller", "address"),
		p("eventChainTip", "bytes32"),
	)

	Transfer = NewSchema("Transfer",
		p("from", "address"),
		p("to", "address"),
		p("value", "uint256"),
	)

	// ReceiverBytes is the controller view returning receiver creation code.
	ReceiverBytes = NewSchema("receiverBytes")
)

// HubEvents are the semantic events the hub contract appends to its event chain.
var HubEvents = newTable(
	NewSchema("OwnershipTransferred", p("oldOwner", "address"), p("newOwner", "address")),
	NewSchema("UsdtSet", p("usdt", "address")),
	NewSchema("TronUsdtSet", p("tronUsdt", "address")),
	NewSchema("TronReaderSet", p("reader", "address")),
	NewSchema("RealtorSet", p("realtor", "address"), p("allowed", "bool")),
	NewSchema("LpSet", p("lp", "address"), p("allowed", "bool")),
	NewSchema("ChainDeprecatedSet", p("targetChainId", "uint256"), p("deprecated", "bool")),
	NewSchema("SwapRateSet", p("targetToken", "address"), p("ratePpm", "uint256")),
	NewSchema("BridgerSet", p("targetToken", "address"), p("targetChainId", "uint256"), p("bridger", "address")),
	NewSchema("ProtocolFloorSet", p("floorPpm", "uint256")),
	NewSchema("ProtocolFloorFlatFeeSet", p("floorFlatFee", "uint64")),
	NewSchema("RealtorMinFeeSet", p("realtor", "address"), p("minFeePpm", "uint256")),
	NewSchema("RealtorMinFlatFeeSet", p("realtor", "address"), p("minFlatFee", "uint64")),
	NewSchema("RealtorLeaseRateLimitSet",
		p("realtor", "address"), p("mode", "uint8"), p("maxLeases", "uint32"), p("windowSeconds", "uint32")),
	NewSchema("LesseePayoutConfigRateLimitSet", p("maxUpdates", "uint256"), p("windowSeconds", "uint256")),
	NewSchema("LeaseCreated",
		p("leaseId", "uint256"),
		p("receiverSalt", "bytes32"),
		p("leaseNumber", "uint256"),
		p("realtor", "address"),
		p("lessee", "address"),
		p("startTime", "uint64"),
		p("nukeableAfter", "uint64"),
		p("leaseFeePpm", "uint32"),
		p("flatFee", "uint64"),
	),
	NewSchema("LeaseNonceUpdated", p("leaseId", "uint256"), p("nonce", "uint256")),
	NewSchema("PayoutConfigUpdated",
		p("leaseId", "uint256"), p("targetChainId", "uint256"), p("targetToken", "address"), p("beneficiary", "address")),
	NewSchema("ClaimCreated",
		p("leaseId", "uint256"),
		p("claimId", "uint256"),
		p("targetToken", "address"),
		p("queueIndex", "uint256"),
		p("amountUsdt", "uint256"),
		p("targetChainId", "uint256"),
		p("beneficiary", "address"),
		p("origin", "uint8"),
		p("originId", "bytes32"),
		p("originActor", "address"),
		p("originToken", "address"),
		p("originTimestamp", "uint64"),
		p("originRawAmount", "uint256"),
	),
	NewSchema("ClaimFilled",
		p("leaseId", "uint256"),
		p("claimId", "uint256"),
		p("targetToken", "address"),
		p("queueIndex", "uint256"),
		p("amountUsdt", "uint256"),
		p("targetChainId", "uint256"),
		p("beneficiary", "address"),
	),
	NewSchema("DepositPreEntitled",
		p("txId", "bytes32"), p("leaseId", "uint256"), p("rawAmount", "uint256"), p("netOut", "uint256")),
	NewSchema("ControllerEventChainTipUpdated",
		p("previousTip", "bytes32"),
		p("blockNumber", "uint256"),
		p("blockTimestamp", "uint256"),
		p("eventSignature", "bytes32"),
		p("abiEncodedEventData", "bytes"),
	),
	NewSchema("ControllerEventProcessed",
		p("eventIndex", "uint256"),
		p("blockNumber", "uint256"),
		p("blockTimestamp", "uint256"),
		p("eventSignature", "bytes32"),
		p("abiEncodedEventData", "bytes"),
	),
	NewSchema("LpDeposited", p("lp", "address"), p("amount", "uint256")),
	NewSchema("LpWithdrawn", p("lp", "address"), p("amount", "uint256")),
	NewSchema("ProtocolPnlUpdated", p("pnl", "int256"), p("delta", "int256"), p("reason", "uint8")),
	NewSchema("TokensRescued", p("token", "address"), p("amount", "uint256")),
	NewSchema("Paused", p("account", "address")),
	NewSchema("Unpaused", p("account", "address")),
	NewSchema("ReceiverUsdtSwept", p("receiverSalt", "bytes32"), p("receiver", "address"), p("amount", "uint256")),
)

// ControllerEvents are the semantic events the controller contract appends to its event chain.
var ControllerEvents = newTable(
	NewSchema("OwnerChanged", p("newOwner", "address")),
	NewSchema("ExecutorChanged", p("newExecutor", "address")),
	NewSchema("UsdtSet", p("newUsdt", "address")),
	NewSchema("LpSet", p("newLp", "address")),
	NewSchema("PayloadSet", p("rebalancer", "address"), p("payload", "bytes")),
	NewSchema("ReceiverDeployed", p("receiver", "address"), p("salt", "bytes32")),
	NewSchema("PulledFromReceiver",
		p("receiverSalt", "bytes32"),
		p("token", "address"),
		p("tokenAmount", "uint256"),
		p("exchangeRate", "uint256"),
		p("usdtAmount", "uint256"),
	),
	NewSchema("UsdtRebalanced", p("inAmount", "uint256"), p("outAmount", "uint256"), p("rebalancer", "address")),
	NewSchema("ControllerUsdtTransfer", p("recipient", "address"), p("amount", "uint256")),
	NewSchema("LpTokensWithdrawn", p("token", "address"), p("amount", "uint256")),
	NewSchema("LpExchangeRateSet", p("token", "address"), p("exchangeRate", "uint256")),
)
