package reporter

import (
	"fmt"
	"sort"
	"strings"
)

// Reporter ion masses and typical isotope impurities as listed on vendor
// product data sheets. Lot specific values should be supplied as a JSON
// method file.
var builtinLabels = map[string][]Label{
	"itraq4": {
		{Name: "114", Mz: 114.1112, Isotopes: IsotopeProfile{Minus2: 0.0, Minus1: 1.0, Plus1: 5.9, Plus2: 0.2}},
		{Name: "115", Mz: 115.1083, Isotopes: IsotopeProfile{Minus2: 0.0, Minus1: 2.0, Plus1: 5.6, Plus2: 0.1}},
		{Name: "116", Mz: 116.1116, Isotopes: IsotopeProfile{Minus2: 0.0, Minus1: 3.0, Plus1: 4.5, Plus2: 0.1}},
		{Name: "117", Mz: 117.1150, Isotopes: IsotopeProfile{Minus2: 0.1, Minus1: 4.0, Plus1: 3.5, Plus2: 0.1}},
	},
	"itraq8": {
		{Name: "113", Mz: 113.1078, Isotopes: IsotopeProfile{Minus2: 0.00, Minus1: 0.00, Plus1: 6.89, Plus2: 0.22}},
		{Name: "114", Mz: 114.1112, Isotopes: IsotopeProfile{Minus2: 0.00, Minus1: 0.94, Plus1: 5.90, Plus2: 0.16}},
		{Name: "115", Mz: 115.1082, Isotopes: IsotopeProfile{Minus2: 0.00, Minus1: 1.88, Plus1: 4.90, Plus2: 0.10}},
		{Name: "116", Mz: 116.1116, Isotopes: IsotopeProfile{Minus2: 0.00, Minus1: 2.82, Plus1: 3.90, Plus2: 0.07}},
		{Name: "117", Mz: 117.1149, Isotopes: IsotopeProfile{Minus2: 0.06, Minus1: 3.77, Plus1: 2.99, Plus2: 0.00}},
		{Name: "118", Mz: 118.1120, Isotopes: IsotopeProfile{Minus2: 0.09, Minus1: 4.71, Plus1: 1.88, Plus2: 0.00}},
		{Name: "119", Mz: 119.1153, Isotopes: IsotopeProfile{Minus2: 0.14, Minus1: 5.66, Plus1: 0.87, Plus2: 0.00}},
		{Name: "121", Mz: 121.1220, Isotopes: IsotopeProfile{Minus2: 0.27, Minus1: 7.44, Plus1: 0.18, Plus2: 0.00}},
	},
	"tmt6": {
		{Name: "126", Mz: 126.127726, Isotopes: IsotopeProfile{Minus1: 0.0, Plus1: 6.1, Plus2: 0.0}},
		{Name: "127", Mz: 127.124761, Isotopes: IsotopeProfile{Minus1: 0.5, Plus1: 6.7, Plus2: 0.0}},
		{Name: "128", Mz: 128.134436, Isotopes: IsotopeProfile{Minus1: 1.1, Plus1: 4.2, Plus2: 0.0}},
		{Name: "129", Mz: 129.131471, Isotopes: IsotopeProfile{Minus1: 1.7, Plus1: 4.1, Plus2: 0.0}},
		{Name: "130", Mz: 130.141145, Isotopes: IsotopeProfile{Minus1: 1.6, Plus1: 2.9, Plus2: 0.0}},
		{Name: "131", Mz: 131.138180, Isotopes: IsotopeProfile{Minus2: 0.2, Minus1: 3.2, Plus1: 2.3}},
	},
	// The N and C variants differ by 6.3 mDa, so at orbitrap tolerances the
	// 15N and 13C labelled channels end up in separate isotope clusters.
	"tmt10": {
		{Name: "126", Mz: 126.127726, Isotopes: IsotopeProfile{Plus1: 5.0}},
		{Name: "127N", Mz: 127.124761, Isotopes: IsotopeProfile{Minus1: 0.2, Plus1: 5.8}},
		{Name: "127C", Mz: 127.131081, Isotopes: IsotopeProfile{Minus1: 0.3, Plus1: 4.8}},
		{Name: "128N", Mz: 128.128116, Isotopes: IsotopeProfile{Minus1: 0.3, Plus1: 4.8}},
		{Name: "128C", Mz: 128.134436, Isotopes: IsotopeProfile{Minus1: 0.6, Plus1: 4.1}},
		{Name: "129N", Mz: 129.131471, Isotopes: IsotopeProfile{Minus1: 0.8, Plus1: 3.5}},
		{Name: "129C", Mz: 129.137790, Isotopes: IsotopeProfile{Minus1: 1.1, Plus1: 2.8}},
		{Name: "130N", Mz: 130.134825, Isotopes: IsotopeProfile{Minus1: 1.5, Plus1: 2.2}},
		{Name: "130C", Mz: 130.141145, Isotopes: IsotopeProfile{Minus1: 1.9, Plus1: 1.6}},
		{Name: "131", Mz: 131.138180, Isotopes: IsotopeProfile{Minus1: 2.3, Plus1: 1.3}},
	},
}

// Lookup returns a built-in method by (case insensitive) name
func Lookup(name string) (*Method, error) {
	key := strings.ToLower(name)
	labels, ok := builtinLabels[key]
	if !ok {
		return nil, fmt.Errorf("%w: unknown method %q (known: %s)",
			ErrInvalidMethod, name, strings.Join(BuiltinNames(), ", "))
	}
	return NewMethod(key, labels)
}

// BuiltinNames lists the names accepted by Lookup
func BuiltinNames() []string {
	names := make([]string, 0, len(builtinLabels))
	for n := range builtinLabels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
