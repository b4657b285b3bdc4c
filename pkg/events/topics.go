package events

// Topic names for the portfolio core's event topology. Every component
// that emits an event publishes on one of these topics of the one bus the
// portfolio manager shares with its components; external observers
// subscribe to that same bus, and nothing re-publishes events.
const (
	TopicStrategyAdded        = "StrategyAdded"
	TopicStrategyRemoved      = "StrategyRemoved"
	TopicAllocationUpdated    = "AllocationUpdated"
	TopicRebalanced           = "Rebalanced"
	TopicTradingPaused        = "TradingPaused"
	TopicTradingResumed       = "TradingResumed"
	TopicRiskLevelChanged     = "RiskLevelChanged"
	TopicRiskAlert            = "RiskAlert"
	TopicEmergencyClose       = "EmergencyClose"
	TopicReduceAll            = "ReduceAll"
	TopicReduceExposure       = "ReduceExposure"
	TopicRebalanceTriggered   = "RebalanceTriggered"
	TopicHighCorrelationWarn  = "HighCorrelationWarning"
	TopicRegimeChange         = "RegimeChange"
	TopicVolatilitySpike      = "VolatilitySpike"
	TopicTrendReversal        = "TrendReversal"
	TopicExtremeDetected      = "ExtremeDetected"
	TopicStatusUpdated        = "StatusUpdated"
	TopicReportGenerated      = "ReportGenerated"
)
