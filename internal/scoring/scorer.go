package scoring

import (
	"fmt"
	"net/netip"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/config"
)

// Scorer holds the tuning for all five domain scorers. It is stateless
// beyond its configuration and safe for concurrent use.
type Scorer struct {
	cfg config.ScoringConfig
}

// New creates a Scorer with the given tuning.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score dispatches to the scorer for domain. Unknown domains report
// insufficient evidence.
func (s *Scorer) Score(domain schemas.DomainName, bundle schemas.FactBundle) schemas.DomainResult {
	switch domain {
	case schemas.DomainLogs:
		return s.Logs(bundle.Logs)
	case schemas.DomainNetwork:
		return s.Network(bundle.Network)
	case schemas.DomainDevice:
		return s.Device(bundle.Device)
	case schemas.DomainLocation:
		return s.Location(bundle.Location)
	case schemas.DomainAuthentication:
		return s.Authentication(bundle.Auth)
	default:
		return insufficient(domain)
	}
}

// Logs scores transaction volume, failure rate and error-code diversity.
// Volume below the configured threshold is dampened toward the baseline,
// and a single clean transaction never rises above the single-transaction cap.
func (s *Scorer) Logs(f *schemas.LogsFacts) schemas.DomainResult {
	if f == nil {
		return insufficient(schemas.DomainLogs)
	}
	c := s.cfg.Logs

	failed := max(f.FailedCount, 0)
	total := max(f.TransactionCount, failed)
	errorCodes := max(f.ErrorCodeCount, 0)
	if total == 0 && errorCodes == 0 {
		return insufficient(schemas.DomainLogs)
	}

	acc := newAccumulator(schemas.DomainLogs, c.Baseline)
	acc.note(fmt.Sprintf("transactions=%d", total))

	if total == 1 && failed == 0 && errorCodes == 0 {
		result := acc.finish(c.SingleTransactionCap, schemas.ThreatUnknown, s.cfg.ThreatIntel)
		result.Narrative = fmt.Sprintf("Low risk (%s) on logs: a single transaction with no failures or error codes.",
			schemas.FormatRisk(result.Score))
		return result
	}

	if failed > 0 && total > 0 {
		rate := float64(failed) / float64(total)
		acc.flag(fmt.Sprintf("failed_transactions=%d/%d", failed, total), true, rate*c.FailureRateWeight)
		if rate >= c.HighFailureRate {
			acc.note("high_failure_rate")
		}
	}
	acc.count("error_codes", errorCodes, c.ErrorCodeWeight, c.ErrorCodeCap)
	if errorCodes >= c.ErrorDiversityMin {
		acc.note("error_code_diversity")
	}

	if total < c.LowVolumeThreshold {
		acc.score = c.Baseline + (acc.score-c.Baseline)*float64(max(total, 1))/float64(c.LowVolumeThreshold)
		acc.note("low_volume")
	}

	return acc.finish(c.Cap, schemas.ThreatUnknown, s.cfg.ThreatIntel)
}

// Network scores threat-intel hits and anonymising infrastructure. The
// public/private classification of the address is computed from the
// address itself and attached whether or not there is evidence.
func (s *Scorer) Network(f *schemas.NetworkFacts) schemas.DomainResult {
	if f == nil {
		result := insufficient(schemas.DomainNetwork)
		result.IsPublic = schemas.Bool(false)
		return result
	}
	c := s.cfg.Network
	isPublic := IsPublicIP(f.IPAddress)
	level := f.ExternalTI.Normalize()

	acc := newAccumulator(schemas.DomainNetwork, c.Baseline)
	acc.count("threat_intel_hits", f.ThreatIntelHits, c.ThreatIntelHitWeight, c.ThreatIntelHitCap)
	acc.flag("proxy_vpn", f.ProxyVPN, c.ProxyVPNWeight)
	acc.flag("tor_exit", f.Tor, c.TorWeight)
	acc.flag("asn_risk", f.ASNRisk, c.ASNRiskWeight)
	acc.flag("geo_anomaly", f.GeoAnomaly, c.GeoAnomalyWeight)
	acc.noteThreatLevel(level)

	var result schemas.DomainResult
	if acc.observed() {
		result = acc.finish(c.Cap, level, s.cfg.ThreatIntel)
	} else {
		result = insufficient(schemas.DomainNetwork)
	}
	result.IsPublic = schemas.Bool(isPublic)
	return result
}

// Device scores emulator, fingerprint and account-sharing indicators.
func (s *Scorer) Device(f *schemas.DeviceFacts) schemas.DomainResult {
	if f == nil {
		return insufficient(schemas.DomainDevice)
	}
	c := s.cfg.Device
	level := f.ExternalTI.Normalize()

	acc := newAccumulator(schemas.DomainDevice, c.Baseline)
	acc.flag("new_device", f.NewDevice, c.NewDeviceWeight)
	acc.flag("emulator_detected", f.EmulatorDetected, c.EmulatorWeight)
	acc.flag("fingerprint_mismatch", f.FingerprintMismatch, c.FingerprintMismatchWeight)
	acc.flag("rooted_or_jailbroken", f.RootedOrJailbroken, c.RootedWeight)
	acc.count("shared_device_accounts", f.SharedDeviceAccounts, c.SharedAccountWeight, c.SharedAccountCap)
	acc.noteThreatLevel(level)

	if !acc.observed() {
		return insufficient(schemas.DomainDevice)
	}
	return acc.finish(c.Cap, level, s.cfg.ThreatIntel)
}

// Location scores travel and geography indicators. The first
// DistinctCountryFree countries are treated as normal.
func (s *Scorer) Location(f *schemas.LocationFacts) schemas.DomainResult {
	if f == nil {
		return insufficient(schemas.DomainLocation)
	}
	c := s.cfg.Location
	level := f.ExternalTI.Normalize()

	acc := newAccumulator(schemas.DomainLocation, c.Baseline)
	acc.flag("impossible_travel", f.ImpossibleTravel, c.ImpossibleTravelWeight)
	acc.flag("high_risk_country", f.HighRiskCountry, c.HighRiskCountryWeight)
	acc.flag("country_mismatch", f.CountryMismatch, c.CountryMismatchWeight)
	acc.count("extra_countries", f.DistinctCountries-c.DistinctCountryFree, c.DistinctCountryWeight, c.DistinctCountryCap)
	acc.noteThreatLevel(level)

	if !acc.observed() {
		return insufficient(schemas.DomainLocation)
	}
	return acc.finish(c.Cap, level, s.cfg.ThreatIntel)
}

// Authentication scores login failures, MFA bypass attempts and
// credential attacks.
func (s *Scorer) Authentication(f *schemas.AuthFacts) schemas.DomainResult {
	if f == nil {
		return insufficient(schemas.DomainAuthentication)
	}
	c := s.cfg.Authentication
	level := f.ExternalTI.Normalize()

	acc := newAccumulator(schemas.DomainAuthentication, c.Baseline)
	acc.count("failed_logins", f.FailedLogins, c.FailedLoginWeight, c.FailedLoginCap)
	acc.count("mfa_bypass_attempts", f.MFABypassAttempts, c.MFABypassWeight, c.MFABypassCap)
	acc.count("password_resets", f.PasswordResets, c.PasswordResetWeight, c.PasswordResetCap)
	acc.flag("credential_stuffing", f.CredentialStuffing, c.CredentialStuffingWeight)
	acc.flag("impossible_login", f.ImpossibleLogin, c.ImpossibleLoginWeight)
	acc.noteThreatLevel(level)

	if !acc.observed() {
		return insufficient(schemas.DomainAuthentication)
	}
	return acc.finish(c.Cap, level, s.cfg.ThreatIntel)
}

// IsPublicIP reports whether addr parses as a globally routable unicast
// address. Unparseable input is not public.
func IsPublicIP(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	switch {
	case ip.IsPrivate(),
		ip.IsLoopback(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsInterfaceLocalMulticast(),
		ip.IsMulticast(),
		ip.IsUnspecified():
		return false
	}
	return ip.IsGlobalUnicast()
}
