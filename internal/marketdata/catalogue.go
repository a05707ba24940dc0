package marketdata

import (
	"strings"

	"github.com/papertrader-engine/internal/domain"
)

// catalogueEntry is one static instrument the search and top-movers
// operations draw from.
type catalogueEntry struct {
	Symbol   string
	Name     string
	Exchange domain.Exchange
	Type     string
}

// equityCatalogue, commodityCatalogue, and currencyCatalogue are the
// static instrument lists the search and top-movers operations draw
// from: roughly 30 large-cap equities, 15 commodity futures, and 10
// currency pairs.
var equityCatalogue = []catalogueEntry{
	{"RELIANCE", "Reliance Industries", domain.ExchangeNSE, "EQ"},
	{"TCS", "Tata Consultancy Services", domain.ExchangeNSE, "EQ"},
	{"HDFCBANK", "HDFC Bank", domain.ExchangeNSE, "EQ"},
	{"INFY", "Infosys", domain.ExchangeNSE, "EQ"},
	{"ICICIBANK", "ICICI Bank", domain.ExchangeNSE, "EQ"},
	{"HINDUNILVR", "Hindustan Unilever", domain.ExchangeNSE, "EQ"},
	{"ITC", "ITC Limited", domain.ExchangeNSE, "EQ"},
	{"SBIN", "State Bank of India", domain.ExchangeNSE, "EQ"},
	{"BHARTIARTL", "Bharti Airtel", domain.ExchangeNSE, "EQ"},
	{"KOTAKBANK", "Kotak Mahindra Bank", domain.ExchangeNSE, "EQ"},
	{"LT", "Larsen & Toubro", domain.ExchangeNSE, "EQ"},
	{"AXISBANK", "Axis Bank", domain.ExchangeNSE, "EQ"},
	{"ASIANPAINT", "Asian Paints", domain.ExchangeNSE, "EQ"},
	{"MARUTI", "Maruti Suzuki", domain.ExchangeNSE, "EQ"},
	{"BAJFINANCE", "Bajaj Finance", domain.ExchangeNSE, "EQ"},
	{"TITAN", "Titan Company", domain.ExchangeNSE, "EQ"},
	{"WIPRO", "Wipro", domain.ExchangeNSE, "EQ"},
	{"SUNPHARMA", "Sun Pharmaceutical", domain.ExchangeNSE, "EQ"},
	{"ULTRACEMCO", "UltraTech Cement", domain.ExchangeNSE, "EQ"},
	{"NESTLEIND", "Nestle India", domain.ExchangeNSE, "EQ"},
	{"ONGC", "Oil & Natural Gas Corp", domain.ExchangeNSE, "EQ"},
	{"TATAMOTORS", "Tata Motors", domain.ExchangeNSE, "EQ"},
	{"NTPC", "NTPC Limited", domain.ExchangeNSE, "EQ"},
	{"POWERGRID", "Power Grid Corp", domain.ExchangeNSE, "EQ"},
	{"JSWSTEEL", "JSW Steel", domain.ExchangeNSE, "EQ"},
	{"TATASTEEL", "Tata Steel", domain.ExchangeNSE, "EQ"},
	{"ADANIENT", "Adani Enterprises", domain.ExchangeNSE, "EQ"},
	{"COALINDIA", "Coal India", domain.ExchangeNSE, "EQ"},
	{"HCLTECH", "HCL Technologies", domain.ExchangeNSE, "EQ"},
	{"DRREDDY", "Dr Reddy's Laboratories", domain.ExchangeNSE, "EQ"},
}

var commodityCatalogue = []catalogueEntry{
	{"GOLD", "Gold Futures", domain.ExchangeMCX, "FUT"},
	{"SILVER", "Silver Futures", domain.ExchangeMCX, "FUT"},
	{"CRUDEOIL", "Crude Oil Futures", domain.ExchangeMCX, "FUT"},
	{"NATURALGAS", "Natural Gas Futures", domain.ExchangeMCX, "FUT"},
	{"COPPER", "Copper Futures", domain.ExchangeMCX, "FUT"},
	{"ZINC", "Zinc Futures", domain.ExchangeMCX, "FUT"},
	{"ALUMINIUM", "Aluminium Futures", domain.ExchangeMCX, "FUT"},
	{"LEAD", "Lead Futures", domain.ExchangeMCX, "FUT"},
	{"NICKEL", "Nickel Futures", domain.ExchangeMCX, "FUT"},
	{"COTTON", "Cotton Futures", domain.ExchangeMCX, "FUT"},
	{"MENTHAOIL", "Mentha Oil Futures", domain.ExchangeMCX, "FUT"},
	{"CPO", "Crude Palm Oil Futures", domain.ExchangeMCX, "FUT"},
	{"KAPAS", "Kapas Futures", domain.ExchangeMCX, "FUT"},
	{"SILVERMIC", "Silver Micro Futures", domain.ExchangeMCX, "FUT"},
	{"GOLDM", "Gold Mini Futures", domain.ExchangeMCX, "FUT"},
}

var currencyCatalogue = []catalogueEntry{
	{"USDINR", "US Dollar / Indian Rupee", domain.ExchangeCDS, "FUT"},
	{"EURINR", "Euro / Indian Rupee", domain.ExchangeCDS, "FUT"},
	{"GBPINR", "British Pound / Indian Rupee", domain.ExchangeCDS, "FUT"},
	{"JPYINR", "Japanese Yen / Indian Rupee", domain.ExchangeCDS, "FUT"},
	{"USDJPY", "US Dollar / Japanese Yen", domain.ExchangeCDS, "FUT"},
	{"EURUSD", "Euro / US Dollar", domain.ExchangeCDS, "FUT"},
	{"GBPUSD", "British Pound / US Dollar", domain.ExchangeCDS, "FUT"},
	{"USDCAD", "US Dollar / Canadian Dollar", domain.ExchangeCDS, "FUT"},
	{"EURJPY", "Euro / Japanese Yen", domain.ExchangeCDS, "FUT"},
	{"EURGBP", "Euro / British Pound", domain.ExchangeCDS, "FUT"},
}

var indexCatalogue = []catalogueEntry{
	{"NIFTY 50", "Nifty 50", domain.ExchangeNSE, "INDEX"},
	{"BANKNIFTY", "Nifty Bank", domain.ExchangeNSE, "INDEX"},
	{"SENSEX", "BSE Sensex", domain.ExchangeNSE, "INDEX"},
	{"INDIA VIX", "India VIX", domain.ExchangeNSE, "INDEX"},
}

func allEquities() []catalogueEntry { return equityCatalogue }

// indexAlias maps an index's display name to the public chart provider's
// ticker for it.
var indexAlias = map[string]string{
	"NIFTY 50":  "^NSEI",
	"BANKNIFTY": "^NSEBANK",
	"SENSEX":    "^BSESN",
	"INDIA VIX": "^INDIAVIX",
}

// chartSymbol maps a (symbol, exchange) pair to the public chart
// provider's ticker convention: index aliases take priority, otherwise
// the exchange suffix (.NS for NSE, .BO for BSE) is appended.
func chartSymbol(symbol string, exchange domain.Exchange) string {
	if alias, ok := indexAlias[strings.ToUpper(symbol)]; ok {
		return alias
	}
	switch exchange {
	case domain.ExchangeNSE:
		return symbol + ".NS"
	default:
		return symbol
	}
}

func searchCatalogue(query string, limit int, exchange *domain.Exchange) []domain.SearchResult {
	q := strings.ToLower(query)
	var results []domain.SearchResult

	all := make([]catalogueEntry, 0, len(equityCatalogue)+len(commodityCatalogue)+len(currencyCatalogue))
	all = append(all, equityCatalogue...)
	all = append(all, commodityCatalogue...)
	all = append(all, currencyCatalogue...)

	for _, entry := range all {
		if exchange != nil && entry.Exchange != *exchange {
			continue
		}
		if !strings.Contains(strings.ToLower(entry.Symbol), q) && !strings.Contains(strings.ToLower(entry.Name), q) {
			continue
		}
		results = append(results, domain.SearchResult{
			Symbol:   entry.Symbol,
			Name:     entry.Name,
			Exchange: entry.Exchange,
			Type:     entry.Type,
		})
		if len(results) >= limit {
			break
		}
	}
	return results
}
