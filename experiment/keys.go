package experiment

// Redis key 布局：
//
//	ab:experiments                              STRING  全部实验配置（JSON 数组）
//	ab:exposure:{exp}:{variant}                 HASH    count
//	ab:conversion:{exp}:{variant}:{metric}      HASH    sum / count
//	ab:user:{user}                              HASH    {exp} -> {"variant","request_id"}，30 天过期
//	ab:user_conv:{user}                         HASH    {exp}:{variant}:{metric} -> 累计值（审计）

func ExposureKey(experimentID, variant string) string {
	return "ab:exposure:" + experimentID + ":" + variant
}

func ConversionKey(experimentID, variant, metric string) string {
	return "ab:conversion:" + experimentID + ":" + variant + ":" + metric
}

func AssignmentKey(userID string) string {
	return "ab:user:" + userID
}

func UserConversionKey(userID string) string {
	return "ab:user_conv:" + userID
}

func userConversionField(experimentID, variant, metric string) string {
	return experimentID + ":" + variant + ":" + metric
}
