package scb

import (
	"strconv"

	"github.com/couchcryptid/daioe-etl/internal/domain"
)

// PxWeb v1 wire types.

type variable struct {
	Code       string   `json:"code"`
	Text       string   `json:"text"`
	Values     []string `json:"values"`
	ValueTexts []string `json:"valueTexts"`
	Time       bool     `json:"time"`
}

type metadata struct {
	Title     string     `json:"title"`
	Variables []variable `json:"variables"`
}

// resolve picks the occupation variable (the first one) and the time variable.
func (m metadata) resolve() (occupation, year variable, err error) {
	if len(m.Variables) == 0 {
		return variable{}, variable{}, domain.DataErrorf("scb metadata has no variables")
	}
	occupation = m.Variables[0]
	if occupation.Code == "" || len(occupation.Values) == 0 {
		return variable{}, variable{}, domain.DataErrorf("scb occupation variable has no values")
	}
	for _, v := range m.Variables[1:] {
		if v.Time || v.Code == timeCode {
			return occupation, v, nil
		}
	}
	return variable{}, variable{}, domain.DataErrorf("scb metadata has no time variable")
}

type selection struct {
	Filter string   `json:"filter"`
	Values []string `json:"values"`
}

type querySelection struct {
	Code      string    `json:"code"`
	Selection selection `json:"selection"`
}

type queryFormat struct {
	Format string `json:"format"`
}

type query struct {
	Query    []querySelection `json:"query"`
	Response queryFormat      `json:"response"`
}

// newQuery selects every occupation for one year. When the table exposes a
// ContentsCode variable its first measure is selected too.
func newQuery(meta metadata, occupation, year variable, latest int) query {
	q := query{
		Query: []querySelection{
			{Code: occupation.Code, Selection: selection{Filter: "item", Values: occupation.Values}},
			{Code: year.Code, Selection: selection{Filter: "item", Values: []string{strconv.Itoa(latest)}}},
		},
		Response: queryFormat{Format: "json"},
	}
	for _, v := range meta.Variables {
		if v.Code == contentsCode && len(v.Values) > 0 {
			q.Query = append(q.Query, querySelection{
				Code:      v.Code,
				Selection: selection{Filter: "item", Values: v.Values[:1]},
			})
		}
	}
	return q
}

type column struct {
	Code string `json:"code"`
	Text string `json:"text"`
	Type string `json:"type"`
}

type dataRow struct {
	Key    []string `json:"key"`
	Values []string `json:"values"`
}

type dataResponse struct {
	Columns []column  `json:"columns"`
	Data    []dataRow `json:"data"`
}
