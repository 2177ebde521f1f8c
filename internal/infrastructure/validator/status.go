package validator

import (
	"slices"
	"strings"
)

// OrderStatuses are the canonical order states the warehouse stores
var OrderStatuses = []string{"pending", "completed", "cancelled", "failed"}

// Currencies are the ISO codes accepted in a currency column
var Currencies = []string{"USD", "CNY", "SGD", "MYR", "THB", "PHP", "VND", "IDR"}

// statusAliases lists, per canonical state, the lower-cased spellings the
// platform exports use
var statusAliases = map[string][]string{
	"pending":   {"unpaid", "to pay", "to ship", "ready to ship", "awaiting payment", "processing", "待付款", "待支付", "待发货", "待处理", "处理中"},
	"completed": {"complete", "delivered", "已完成", "完成", "已签收", "交易成功"},
	"cancelled": {"canceled", "cancel", "已取消", "取消", "交易关闭"},
	"failed":    {"payment failed", "失败", "支付失败"},
}

// CanonicalStatus maps a platform order status to one of OrderStatuses.
// Unknown statuses come back lower-cased with ok false
func CanonicalStatus(value string) (string, bool) {
	v := strings.ToLower(strings.Join(strings.Fields(value), " "))
	for canonical, aliases := range statusAliases {
		if v == canonical || slices.Contains(aliases, v) {
			return canonical, true
		}
	}
	return v, false
}

func canonicalStatus(value string) string {
	s, _ := CanonicalStatus(value)
	return s
}

// CanonicalCurrency upper-cases a currency cell; RMB is CNY
func CanonicalCurrency(value string) string {
	v := strings.ToUpper(strings.TrimSpace(value))
	if v == "RMB" {
		return "CNY"
	}
	return v
}
