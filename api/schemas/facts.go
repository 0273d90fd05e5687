package schemas

import "strings"

// -- Domain Fact Schemas --
//
// Every field is optional. A zero value means the signal was not observed
// and contributes nothing to the score.

// ThreatLevel is an external threat-intelligence verdict.
type ThreatLevel string

const (
	ThreatUnknown  ThreatLevel = ""
	ThreatClean    ThreatLevel = "CLEAN"
	ThreatMinimal  ThreatLevel = "MINIMAL"
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

// Normalize upper-cases the level and maps unrecognised values to ThreatUnknown.
func (l ThreatLevel) Normalize() ThreatLevel {
	switch n := ThreatLevel(strings.ToUpper(strings.TrimSpace(string(l)))); n {
	case ThreatClean, ThreatMinimal, ThreatLow, ThreatMedium, ThreatHigh, ThreatCritical:
		return n
	default:
		return ThreatUnknown
	}
}

// LogsFacts are transaction log metrics for one entity.
type LogsFacts struct {
	TransactionCount int `json:"transaction_count" yaml:"transaction_count" validate:"gte=0"`
	FailedCount      int `json:"failed_count" yaml:"failed_count" validate:"gte=0"`
	ErrorCodeCount   int `json:"error_code_count" yaml:"error_code_count" validate:"gte=0"`
}

// NetworkFacts are network-level indicators for one entity.
type NetworkFacts struct {
	ThreatIntelHits int         `json:"threat_intel_hits" yaml:"threat_intel_hits" validate:"gte=0"`
	ProxyVPN        bool        `json:"proxy_vpn" yaml:"proxy_vpn"`
	Tor             bool        `json:"tor" yaml:"tor"`
	ASNRisk         bool        `json:"asn_risk" yaml:"asn_risk"`
	GeoAnomaly      bool        `json:"geo_anomaly" yaml:"geo_anomaly"`
	IPAddress       string      `json:"ip_address" yaml:"ip_address"`
	ExternalTI      ThreatLevel `json:"ext_ti" yaml:"ext_ti" validate:"omitempty,threat_level"`
}

// DeviceFacts are device fingerprint indicators.
type DeviceFacts struct {
	NewDevice            bool        `json:"new_device" yaml:"new_device"`
	EmulatorDetected     bool        `json:"emulator_detected" yaml:"emulator_detected"`
	FingerprintMismatch  bool        `json:"fingerprint_mismatch" yaml:"fingerprint_mismatch"`
	RootedOrJailbroken   bool        `json:"rooted_or_jailbroken" yaml:"rooted_or_jailbroken"`
	SharedDeviceAccounts int         `json:"shared_device_accounts" yaml:"shared_device_accounts" validate:"gte=0"`
	ExternalTI           ThreatLevel `json:"ext_ti" yaml:"ext_ti" validate:"omitempty,threat_level"`
}

// LocationFacts are geographic indicators.
type LocationFacts struct {
	ImpossibleTravel  bool        `json:"impossible_travel" yaml:"impossible_travel"`
	HighRiskCountry   bool        `json:"high_risk_country" yaml:"high_risk_country"`
	CountryMismatch   bool        `json:"country_mismatch" yaml:"country_mismatch"`
	DistinctCountries int         `json:"distinct_countries" yaml:"distinct_countries" validate:"gte=0"`
	ExternalTI        ThreatLevel `json:"ext_ti" yaml:"ext_ti" validate:"omitempty,threat_level"`
}

// AuthFacts are authentication indicators.
type AuthFacts struct {
	FailedLogins       int         `json:"failed_logins" yaml:"failed_logins" validate:"gte=0"`
	MFABypassAttempts  int         `json:"mfa_bypass_attempts" yaml:"mfa_bypass_attempts" validate:"gte=0"`
	PasswordResets     int         `json:"password_resets" yaml:"password_resets" validate:"gte=0"`
	CredentialStuffing bool        `json:"credential_stuffing" yaml:"credential_stuffing"`
	ImpossibleLogin    bool        `json:"impossible_login" yaml:"impossible_login"`
	ExternalTI         ThreatLevel `json:"ext_ti" yaml:"ext_ti" validate:"omitempty,threat_level"`
}

// FactBundle is everything the pipeline needs for one scoring run. A nil
// domain pointer means no facts were collected for that domain; the scorer
// still runs and reports insufficient evidence.
type FactBundle struct {
	InvestigationID string         `json:"investigation_id" yaml:"investigation_id"`
	Logs            *LogsFacts     `json:"logs,omitempty" yaml:"logs"`
	Network         *NetworkFacts  `json:"network,omitempty" yaml:"network"`
	Device          *DeviceFacts   `json:"device,omitempty" yaml:"device"`
	Location        *LocationFacts `json:"location,omitempty" yaml:"location"`
	Auth            *AuthFacts     `json:"authentication,omitempty" yaml:"authentication"`
	HardEvidence    HardEvidence   `json:"hard_evidence" yaml:"hard_evidence"`
}
