package core

import "time"

// 默认参数，可被 config.Settings 覆盖。
const (
	RecentItemsCapacity = 10
	SequenceCapacity    = 50
	ActionBucketTTL     = 24 * time.Hour

	// InterestThreshold 是最近物品中同一物品出现次数阈值，达到即视为即时兴趣
	InterestThreshold = 3

	DefaultPageType           = "home"
	DefaultNumRecommendations = 20
	DefaultCandidateLimit     = 200
	DefaultCacheTTL           = 300 * time.Second

	DefaultSimilarSeedItems = 6
	DefaultSimilarPerItem   = 11
	DefaultPopularLimit     = 101
	DefaultTopCategories    = 3
	DefaultCategoryLimit    = 31

	DefaultMMRLambda      = 0.5
	DefaultMMRMaxSelected = 50

	AssignmentTTL = 30 * 24 * time.Hour

	// ControlVariant 是未知/未激活实验的默认分组
	ControlVariant = "control"
)
