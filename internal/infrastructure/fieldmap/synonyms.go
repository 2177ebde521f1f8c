package fieldmap

// Synonyms maps a standard field to words that mean the same thing in
// platform exports
type Synonyms map[string][]string

// Merge returns a copy of s with other's lists appended per field
func (s Synonyms) Merge(other Synonyms) Synonyms {
	out := make(Synonyms, len(s)+len(other))
	for k, v := range s {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range other {
		out[k] = append(out[k], v...)
	}
	return out
}

// HeaderSynonyms drives the semantic step of the header cascade
var HeaderSynonyms = Synonyms{
	"gmv":          {"revenue", "sales", "销售额", "营收", "成交额"},
	"quantity":     {"qty", "count", "数量", "件数"},
	"price":        {"单价", "价格", "售价"},
	"product_name": {"商品", "产品", "title", "name", "标题"},
	"product_id":   {"id", "sku", "编号", "商品ID"},
	"order_id":     {"订单号", "订单编号", "order_no"},
}

// SchemaSynonyms drives the semantic step of the schema suggestion engine
var SchemaSynonyms = Synonyms{
	"product_name":     {"商品名称", "产品名称", "item_name", "product_title", "商品标题", "产品标题"},
	"product_sku":      {"商品SKU", "产品SKU", "sku", "product_code", "商品编码", "产品编码"},
	"product_price":    {"商品价格", "产品价格", "price", "cost", "amount", "价格", "金额"},
	"product_category": {"商品分类", "产品分类", "category", "分类", "类目"},
	"order_id":         {"订单号", "订单ID", "order_number", "order_no", "订单编号"},
	"order_amount":     {"订单金额", "总金额", "total_amount", "gmv", "订单总额"},
	"order_date":       {"订单日期", "下单时间", "order_date", "date", "日期", "时间"},
	"customer_id":      {"客户ID", "用户ID", "customer", "user", "客户", "用户"},
	"shop_id":          {"店铺ID", "商店ID", "shop", "store", "店铺", "商店"},
	"shop_name":        {"店铺名称", "商店名称", "shop_name", "store_name", "店铺名"},
	"platform_code":    {"平台", "platform", "site", "渠道", "平台代码"},
	"currency":         {"货币", "币种", "currency", "curr", "货币代码"},
	"quantity":         {"数量", "quantity", "qty"},
	"status":           {"状态", "status", "状态码"},
	"description":      {"描述", "说明", "description", "desc", "备注"},
}
