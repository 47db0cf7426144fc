package export

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Supported lists the export languages; the first entry is the default.
var Supported = []language.Tag{language.Arabic, language.English}

var matcher = language.NewMatcher(Supported)

// Header labels keyed by their English text.
var arabicLabels = map[string]string{
	"Metric":              "المؤشر",
	"Value":               "القيمة",
	"Date from":           "من تاريخ",
	"Date to":             "إلى تاريخ",
	"Total orders":        "إجمالي الطلبات",
	"Delivered orders":    "الطلبات المسلمة",
	"Return orders":       "الطلبات المرتجعة",
	"Active orders":       "الطلبات النشطة",
	"Gross sales":         "إجمالي المبيعات",
	"Total COGS":          "تكلفة البضاعة",
	"Total shipping cost": "تكلفة الشحن",
	"Total ad cost":       "تكلفة الإعلانات",
	"Net profit":          "صافي الربح",
	"Delivery rate":       "نسبة التسليم",
	"Return rate":         "نسبة الإرجاع",
	"Average order value": "متوسط قيمة الطلب",
	"Denominator":         "أساس الاحتساب",
	"Ad cost included":    "احتساب الإعلانات",
	"Date":                "التاريخ",
	"Delivered":           "مسلّم",
	"Returned":            "مرتجع",
	"Active":              "نشط",
	"Total":               "الإجمالي",
	"Country":             "الدولة",
	"Carrier":             "شركة الشحن",
	"Employee":            "الموظف",
	"Product":             "المنتج",
	"Quantity":            "الكمية",
	"Delivered quantity":  "الكمية المسلمة",
	"Returned quantity":   "الكمية المرتجعة",
	"Revenue":             "الإيرادات",
	"Profit":              "الربح",
	"Status":              "الحالة",
	"Label":               "الوصف",
	"Count":               "العدد",
	"Share":               "النسبة",
	"Yes":                 "نعم",
	"No":                  "لا",
}

var labels = buildCatalog()

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.Arabic))
	for key, ar := range arabicLabels {
		_ = b.SetString(language.Arabic, key, ar)
		_ = b.SetString(language.English, key, key)
	}
	return b
}

// Printer returns a message printer for lang, falling back to the
// Accept-Language header and then Arabic.
func Printer(lang, acceptLanguage string) *message.Printer {
	return message.NewPrinter(Match(lang, acceptLanguage), message.Catalog(labels))
}

// Match resolves the export language.
func Match(lang, acceptLanguage string) language.Tag {
	var prefs []language.Tag
	if lang != "" {
		if tag, err := language.Parse(lang); err == nil {
			prefs = append(prefs, tag)
		}
	}
	if acceptLanguage != "" {
		if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil {
			prefs = append(prefs, tags...)
		}
	}
	if len(prefs) == 0 {
		return Supported[0]
	}
	_, idx, conf := matcher.Match(prefs...)
	if conf == language.No {
		return Supported[0]
	}
	return Supported[idx]
}
