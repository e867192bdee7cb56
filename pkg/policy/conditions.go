package policy

import "github.com/qns-project/qns-core/pkg"

// ResolveCondition expands a tagged Condition into the concrete
// Threshold(s) it represents for the given call type, per "Each
// [Condition] resolves to one or more Threshold objects keyed on
// (call-type, measurement, good/bad/worst)". WIFI_AVAILABLE has no
// Threshold (it is availability, not signal quality) and resolves to nil.
func (s *Store) ResolveCondition(tag pkg.ConditionTag, callType pkg.CallType) []pkg.Threshold {
	switch tag {
	case pkg.ConditionWiFiAvailable:
		return nil
	case pkg.ConditionWiFiGood:
		t := s.ThresholdByPreference(pkg.AccessNetworkIWLAN, callType, pkg.MeasurementRSSI)
		return []pkg.Threshold{t.Good}
	case pkg.ConditionWiFiBad:
		t := s.ThresholdByPreference(pkg.AccessNetworkIWLAN, callType, pkg.MeasurementRSSI)
		return []pkg.Threshold{t.Bad}
	case pkg.ConditionCellularGood:
		return s.bestCellularThreshold(callType, true)
	case pkg.ConditionCellularBad:
		return s.bestCellularThreshold(callType, false)
	case pkg.ConditionEUTRANGood:
		t := s.ThresholdByPreference(pkg.AccessNetworkEUTRAN, callType, pkg.MeasurementRSRP)
		return []pkg.Threshold{t.Good}
	case pkg.ConditionEUTRANBad:
		t := s.ThresholdByPreference(pkg.AccessNetworkEUTRAN, callType, pkg.MeasurementRSRP)
		return []pkg.Threshold{t.Bad}
	case pkg.ConditionEUTRANWorst:
		t := s.ThresholdByPreference(pkg.AccessNetworkEUTRAN, callType, pkg.MeasurementRSRP)
		if t.HasWorst {
			return []pkg.Threshold{t.Worst}
		}
		return nil
	case pkg.ConditionNGRANGood:
		t := s.ThresholdByPreference(pkg.AccessNetworkNGRAN, callType, pkg.MeasurementSSRSRP)
		return []pkg.Threshold{t.Good}
	case pkg.ConditionNGRANBad:
		t := s.ThresholdByPreference(pkg.AccessNetworkNGRAN, callType, pkg.MeasurementSSRSRP)
		return []pkg.Threshold{t.Bad}
	case pkg.ConditionNGRANWorst:
		t := s.ThresholdByPreference(pkg.AccessNetworkNGRAN, callType, pkg.MeasurementSSRSRP)
		if t.HasWorst {
			return []pkg.Threshold{t.Worst}
		}
		return nil
	case pkg.ConditionUTRANAvailable:
		t := s.ThresholdByPreference(pkg.AccessNetworkUTRAN, callType, pkg.MeasurementRSCP)
		return []pkg.Threshold{t.Good}
	case pkg.ConditionGERANAvailable:
		t := s.ThresholdByPreference(pkg.AccessNetworkGERAN, callType, pkg.MeasurementRSSI)
		return []pkg.Threshold{t.Good}
	default:
		return nil
	}
}

// bestCellularThreshold resolves CELLULAR_GOOD/CELLULAR_BAD against the
// currently-registered-relevant cellular access network; since the
// PolicyStore itself is access-network-agnostic here, the Evaluator
// supplies the concrete network via ResolveConditionForNetwork when it
// knows which cellular RAT is in play. This generic fallback assumes
// EUTRAN, the common case for a cold lookup (e.g. diagnostic dump).
func (s *Store) bestCellularThreshold(callType pkg.CallType, good bool) []pkg.Threshold {
	t := s.ThresholdByPreference(pkg.AccessNetworkEUTRAN, callType, pkg.MeasurementRSRP)
	if good {
		return []pkg.Threshold{t.Good}
	}
	return []pkg.Threshold{t.Bad}
}

// ResolveConditionForNetwork is like ResolveCondition but lets the caller
// pin CELLULAR_GOOD/CELLULAR_BAD to the access network actually in use,
// which the Evaluator always knows.
func (s *Store) ResolveConditionForNetwork(tag pkg.ConditionTag, callType pkg.CallType, cellularNet pkg.AccessNetworkKind) []pkg.Threshold {
	switch tag {
	case pkg.ConditionCellularGood:
		t := s.ThresholdByPreference(cellularNet, callType, measurementFor(cellularNet))
		return []pkg.Threshold{t.Good}
	case pkg.ConditionCellularBad:
		t := s.ThresholdByPreference(cellularNet, callType, measurementFor(cellularNet))
		return []pkg.Threshold{t.Bad}
	default:
		return s.ResolveCondition(tag, callType)
	}
}

func measurementFor(net pkg.AccessNetworkKind) pkg.MeasurementType {
	switch net {
	case pkg.AccessNetworkNGRAN:
		return pkg.MeasurementSSRSRP
	case pkg.AccessNetworkUTRAN:
		return pkg.MeasurementRSCP
	case pkg.AccessNetworkGERAN:
		return pkg.MeasurementRSSI
	default:
		return pkg.MeasurementRSRP
	}
}
