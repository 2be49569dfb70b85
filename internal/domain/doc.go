// Package domain models Swedish occupational employment data and the DAIOE
// (AI occupational exposure) dataset built on top of it.
//
// # Data Sources
//
// Employment counts come from Statistics Sweden (SCB) through its PxWeb API at
// https://api.scb.se/OV0104/v1/doris/. One table per taxonomy reports the number
// of employees per 4-digit occupation code and year:
//
//	ssyk2012  AM/AM0208/AM0208E/YREG51BAS
//	ssyk96    AM/AM0208/AM0208E/YREG33
//
// The DAIOE dataset is a pre-translated CSV published on GitHub. Each row is one
// 4-digit occupation in one year, carrying the code and label of every ancestor
// level plus a set of daioe_* exposure metrics.
//
// # SSYK Conventions
//
// SSYK (Standard för svensk yrkesklassificering) is a four-level hierarchy. A
// level-n code is the first n digits of the level-4 code:
//
//	2512  Software developers
//	251   ICT architects, systems analysts and test managers
//	25    ICT professionals
//	2     Occupations requiring higher education qualifications
//
// Codes are canonicalised as digit strings zero-padded to the level width, so the
// armed forces occupation 0110 rolls up to 011, 01 and 0. Upstream files are not
// consistent about leading zeros; see [NormalizeCode].
//
// DAIOE code columns hold "<code> <label>" in a single cell, e.g.
// "2512 Software developers". The label is everything after the first space.
//
// SCB reports the bucket 0002 for occupations that could not be classified.
// It has no DAIOE counterpart and is dropped at fetch time.
//
// # Aggregation
//
// Level-4 employment is attached to every DAIOE row by code (many-to-one). Each
// metric is then rolled up per (year, code) at every level in two ways:
//
//	weighted  Σ(metric × employment) / Σ employment, over rows where the metric is present
//	simple    arithmetic mean of the present values
//
// A group whose weight sum is zero, or that has no present values, yields NaN.
// Rows without employment are dropped, and so is any output code that SCB does
// not report at that level: every aggregate row exists in both sources.
//
// Percentile ranks are computed per metric within each (year, level) using the
// average rank of ties divided by the number of present values.
package domain
