package experiment

import (
	"crypto/md5"
	"math/big"
)

// Bucket 将 userID:experimentID 的 MD5 视为无符号大整数，对 total 取模。
// 同样的输入总是得到同样的桶号；total <= 0 时返回 -1。
func Bucket(userID, experimentID string, total int) int {
	if total <= 0 {
		return -1
	}
	sum := md5.Sum([]byte(userID + ":" + experimentID))
	n := new(big.Int).SetBytes(sum[:])
	return int(n.Mod(n, big.NewInt(int64(total))).Int64())
}

// Pick 按声明顺序累加权重，返回桶号落入区间的分组。
func Pick(variants []Variant, bucket int) (string, bool) {
	if bucket < 0 {
		return "", false
	}
	cum := 0
	for _, v := range variants {
		cum += v.Weight
		if bucket < cum {
			return v.Name, true
		}
	}
	return "", false
}
