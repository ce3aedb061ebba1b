package relay

import (
	"sort"
	"strings"
	"unicode"
)

// Country 国家拨号前缀条目
type Country struct {
	DialCode string
	ISO2     string
	NameEN   string
}

// 默认拨号前缀表，覆盖平台常见号段的国家
// DetectCountry 前会按前缀长度降序排序，保证 971 先于 9 之类的短前缀命中
var defaultCountries = []Country{
	{DialCode: "20", ISO2: "EG", NameEN: "Egypt"},
	{DialCode: "225", ISO2: "CI", NameEN: "Cote d'Ivoire"},
	{DialCode: "971", ISO2: "AE", NameEN: "United Arab Emirates"},
	{DialCode: "966", ISO2: "SA", NameEN: "Saudi Arabia"},
	{DialCode: "965", ISO2: "KW", NameEN: "Kuwait"},
	{DialCode: "968", ISO2: "OM", NameEN: "Oman"},
	{DialCode: "974", ISO2: "QA", NameEN: "Qatar"},
	{DialCode: "973", ISO2: "BH", NameEN: "Bahrain"},
	{DialCode: "962", ISO2: "JO", NameEN: "Jordan"},
	{DialCode: "961", ISO2: "LB", NameEN: "Lebanon"},
	{DialCode: "212", ISO2: "MA", NameEN: "Morocco"},
	{DialCode: "213", ISO2: "DZ", NameEN: "Algeria"},
	{DialCode: "216", ISO2: "TN", NameEN: "Tunisia"},
	{DialCode: "218", ISO2: "LY", NameEN: "Libya"},
	{DialCode: "229", ISO2: "BJ", NameEN: "Benin"},
	{DialCode: "261", ISO2: "MG", NameEN: "Madagascar"},
	{DialCode: "254", ISO2: "KE", NameEN: "Kenya"},
	{DialCode: "234", ISO2: "NG", NameEN: "Nigeria"},
	{DialCode: "1", ISO2: "US", NameEN: "United States"},
	{DialCode: "44", ISO2: "GB", NameEN: "United Kingdom"},
	{DialCode: "33", ISO2: "FR", NameEN: "France"},
	{DialCode: "49", ISO2: "DE", NameEN: "Germany"},
	{DialCode: "39", ISO2: "IT", NameEN: "Italy"},
	{DialCode: "34", ISO2: "ES", NameEN: "Spain"},
	{DialCode: "90", ISO2: "TR", NameEN: "Turkey"},
	{DialCode: "7", ISO2: "RU", NameEN: "Russia"},
	{DialCode: "86", ISO2: "CN", NameEN: "China"},
	{DialCode: "91", ISO2: "IN", NameEN: "India"},
	{DialCode: "92", ISO2: "PK", NameEN: "Pakistan"},
	{DialCode: "62", ISO2: "ID", NameEN: "Indonesia"},
	{DialCode: "63", ISO2: "PH", NameEN: "Philippines"},
	{DialCode: "84", ISO2: "VN", NameEN: "Vietnam"},
	{DialCode: "66", ISO2: "TH", NameEN: "Thailand"},
	{DialCode: "60", ISO2: "MY", NameEN: "Malaysia"},
	{DialCode: "65", ISO2: "SG", NameEN: "Singapore"},
	{DialCode: "81", ISO2: "JP", NameEN: "Japan"},
	{DialCode: "82", ISO2: "KR", NameEN: "South Korea"},
	{DialCode: "61", ISO2: "AU", NameEN: "Australia"},
	{DialCode: "55", ISO2: "BR", NameEN: "Brazil"},
	{DialCode: "52", ISO2: "MX", NameEN: "Mexico"},
	{DialCode: "27", ISO2: "ZA", NameEN: "South Africa"},
}

var unknownCountry = Country{ISO2: "UN", NameEN: "Unknown"}

var sortedCountries = func() []Country {
	countries := make([]Country, len(defaultCountries))
	copy(countries, defaultCountries)
	sort.SliceStable(countries, func(i, j int) bool {
		return len(countries[i].DialCode) > len(countries[j].DialCode)
	})
	return countries
}()

// digitsOnly 去除号码中的所有非数字字符
func digitsOnly(text string) string {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DetectCountry 按拨号前缀识别号码所属国家，识别不出时返回 Unknown
func DetectCountry(number string) Country {
	digits := digitsOnly(number)
	digits = strings.TrimPrefix(digits, "00")
	for _, country := range sortedCountries {
		if strings.HasPrefix(digits, country.DialCode) {
			return country
		}
	}
	return unknownCountry
}

// ISOToFlag 将 ISO2 国家码转换为旗帜 emoji
// 区域指示符从 U+1F1E6 开始，对应 'A' + 127397
func ISOToFlag(iso2 string) string {
	code := strings.ToUpper(iso2)
	if len(code) != 2 || code[0] < 'A' || code[0] > 'Z' || code[1] < 'A' || code[1] > 'Z' {
		return "🏳️"
	}
	const base = 127397
	return string(rune(base+int(code[0]))) + string(rune(base+int(code[1])))
}
