package testutil

import "github.com/couchcryptid/daioe-etl/internal/domain"

// SampleCSV is a small DAIOE extract for SSYK 2012: three occupations in two
// years, with a leading index column and one missing metric value.
const SampleCSV = `,year,ssyk2012_1,ssyk2012_2,ssyk2012_3,ssyk2012_4,daioe_allapps,daioe_genai
0,2022,2 Yrken med krav på fördjupad högskolekompetens,25 IKT-specialister,251 Mjukvaru- och systemutvecklare m.fl.,2512 Mjukvaru- och systemutvecklare,1.0,2.0
1,2022,2 Yrken med krav på fördjupad högskolekompetens,25 IKT-specialister,251 Mjukvaru- och systemutvecklare m.fl.,2513 Utvecklare inom spel och digital media,3.0,
2,2022,2 Yrken med krav på fördjupad högskolekompetens,26 Specialister inom juridik,261 Jurister,2611 Advokater,0.5,1.0
3,2023,2 Yrken med krav på fördjupad högskolekompetens,25 IKT-specialister,251 Mjukvaru- och systemutvecklare m.fl.,2512 Mjukvaru- och systemutvecklare,2.0,4.0
4,2023,2 Yrken med krav på fördjupad högskolekompetens,25 IKT-specialister,251 Mjukvaru- och systemutvecklare m.fl.,2513 Utvecklare inom spel och digital media,4.0,2.0
5,2023,2 Yrken med krav på fördjupad högskolekompetens,26 Specialister inom juridik,261 Jurister,2611 Advokater,1.0,
`

// SampleEmployment is the PxWeb table matching SampleCSV. It also carries the
// unspecified bucket and an occupation the DAIOE file does not cover.
func SampleEmployment() SCBTable {
	return SCBTable{
		Years: []string{"2021", "2023", "2022"},
		Counts: map[string]string{
			"0002": "999",
			"0110": "20",
			"2512": "100",
			"2513": "300",
			"2611": "50",
		},
	}
}

// NewSampleSources starts a mock server serving the SSYK 2012 samples.
func NewSampleSources() *MockSources {
	m := NewMockSources()
	m.SetEmployment(domain.SSYK2012, SampleEmployment())
	m.SetCSV(domain.SSYK2012, SampleCSV)
	return m
}
