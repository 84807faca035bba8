package cuit

import (
	"strings"
)

// ============================================================================
// CUIT 校验与交易对手证件分类
// ============================================================================
//
// 【分类规则】开发票时需要给出对手方证件类型编码：
//   80 - CUIT（税号，校验位合法）
//   96 - DNI（国民证件，长度不对或校验位不合法时的兜底）
//   99 - 最终消费者（证件缺失/全零/等于商户配置的最终消费者标识）
//
// 【校验位算法】权重 [5,4,3,2,7,6,5,4,3,2] 点乘前10位，mod 11：
//   余数差 11 -> 校验位 0；差 10 -> 非法 CUIT；否则校验位 = 11 - 余数
//
// ============================================================================

const (
	DocTypeCUIT          = 80
	DocTypeDNI           = 96
	DocTypeFinalConsumer = 99
)

var checkWeights = [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}

// IsValid 校验 11 位 CUIT 的校验位
func IsValid(doc string) bool {
	doc = strings.TrimSpace(doc)
	if len(doc) != 11 {
		return false
	}
	sum := 0
	for i := 0; i < 10; i++ {
		c := doc[i]
		if c < '0' || c > '9' {
			return false
		}
		sum += int(c-'0') * checkWeights[i]
	}
	last := doc[10]
	if last < '0' || last > '9' {
		return false
	}

	check := 11 - sum%11
	if check == 11 {
		check = 0
	}
	if check == 10 {
		// 余 1 的组合不存在合法校验位
		return false
	}
	return int(last-'0') == check
}

// IsBlankOrZero 证件缺失或全零
func IsBlankOrZero(doc string) bool {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return true
	}
	for i := 0; i < len(doc); i++ {
		if doc[i] != '0' {
			return false
		}
	}
	return true
}

// ClassifyDocType 根据证件内容判定开票证件类型编码
// finalConsumerDoc 为商户配置的最终消费者兜底标识
func ClassifyDocType(doc, finalConsumerDoc string) int {
	doc = strings.TrimSpace(doc)
	if IsBlankOrZero(doc) || doc == strings.TrimSpace(finalConsumerDoc) {
		return DocTypeFinalConsumer
	}
	if IsValid(doc) {
		return DocTypeCUIT
	}
	return DocTypeDNI
}
