package cleaner

import (
	"regexp"
	"strings"

	"github.com/spmedge/pipeline/internal/store"
)

// ExtractSPM walks every SPM-tagged section in the tree and invokes the
// category-specific extractor, populating a result keyed the same way as
// the document type's schema (spec §4.4 step 6). Called only when a schema
// is registered for the document type; schema is used to decide which
// keys to emit, not to validate extractor output.
func ExtractSPM(sections []*Section, schema *store.Schema) map[string]any {
	if schema == nil {
		return nil
	}
	result := map[string]any{}
	for name := range schema.Fields {
		if field := schema.Fields[name]; field.Type == "list" {
			result[name] = []any{}
		} else {
			result[name] = nil
		}
	}

	for _, s := range sections {
		extractSPMNode(s, result)
	}
	for name := range result {
		if _, ok := schema.Fields[name]; !ok {
			delete(result, name)
		}
	}
	return result
}

func extractSPMNode(s *Section, result map[string]any) {
	switch s.Category {
	case CategoryPlanInfo:
		result[string(CategoryPlanInfo)] = extractPlanInfo(s)
	case CategoryPlanSummary:
		result[string(CategoryPlanSummary)] = strings.TrimSpace(s.Text())
	case CategoryEffectiveDates:
		result[string(CategoryEffectiveDates)] = extractEffectiveDates(s)
	case CategoryPayoutSchedule:
		appendToList(result, string(CategoryPayoutSchedule), extractPayoutSchedule(s))
	case CategorySpecialProvisions:
		appendToList(result, string(CategorySpecialProvisions), extractSpecialProvision(s))
	case CategoryTermsAndConditions:
		appendToList(result, string(CategoryTermsAndConditions), extractTermCondition(s))
	case CategoryCompensationComponents:
		appendToList(result, string(CategoryCompensationComponents), extractCompensationComponent(s))
	}
	for _, c := range s.Children {
		extractSPMNode(c, result)
	}
}

func appendToList(result map[string]any, key string, value any) {
	existing, _ := result[key].([]any)
	result[key] = append(existing, value)
}

var reRoleOrPosition = regexp.MustCompile(`(?i)(?:role|position):\s*([^,\n]+)`)
var reRegion = regexp.MustCompile(`(?i)(?:region|territory):\s*([^,\n]+)`)
var rePlanID = regexp.MustCompile(`(?i)(?:plan\s+id|plan\s+number):\s*([^,\n]+)`)
var rePlanYear = regexp.MustCompile(`(?i)(?:plan\s+year|fiscal\s+year):\s*(\d{4})`)
var rePlanTitle = regexp.MustCompile(`(?i)(?:plan\s+title|plan\s+name):\s*([^,\n]+)`)
var rePlanTitleFallback = regexp.MustCompile(`(?m)^([A-Z][A-Z\s]+(?:PLAN|PROGRAM|INCENTIVE))`)
var reBusinessUnit = regexp.MustCompile(`(?i)(?:business\s+unit|division|department):\s*([^,\n]+)`)

func extractPlanInfo(s *Section) map[string]any {
	text := s.Text()
	info := map[string]any{
		"role": nil, "region": nil, "plan_id": nil, "plan_year": nil,
		"plan_title": nil, "process_flow": nil, "business_unit": nil,
	}
	if m := reRoleOrPosition.FindStringSubmatch(text); m != nil {
		info["role"] = strings.TrimSpace(m[1])
	}
	if m := reRegion.FindStringSubmatch(text); m != nil {
		info["region"] = strings.TrimSpace(m[1])
	}
	if m := rePlanID.FindStringSubmatch(text); m != nil {
		info["plan_id"] = strings.TrimSpace(m[1])
	}
	if m := rePlanYear.FindStringSubmatch(text); m != nil {
		info["plan_year"] = strings.TrimSpace(m[1])
	}
	if m := rePlanTitle.FindStringSubmatch(text); m != nil {
		info["plan_title"] = strings.TrimSpace(m[1])
	} else if m := rePlanTitleFallback.FindStringSubmatch(text); m != nil {
		info["plan_title"] = strings.TrimSpace(m[1])
	}
	if m := reBusinessUnit.FindStringSubmatch(text); m != nil {
		info["business_unit"] = strings.TrimSpace(m[1])
	}
	return info
}

var reStartDate = regexp.MustCompile(`(?i)(?:start\s+date|begin\s+date|effective\s+date):\s*(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\w+\s+\d{1,2},?\s+\d{4})`)
var reEndDate = regexp.MustCompile(`(?i)(?:end\s+date|termination\s+date|expiration\s+date):\s*(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\w+\s+\d{1,2},?\s+\d{4})`)
var reDateRange = regexp.MustCompile(`(?i)(?:period|effective)(?:\s+from|\s+of)?\s+(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\w+\s+\d{1,2},?\s+\d{4})\s+(?:to|through|until)\s+(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\w+\s+\d{1,2},?\s+\d{4})`)

func extractEffectiveDates(s *Section) map[string]any {
	text := s.Text()
	dates := map[string]any{"start_date": nil, "end_date": nil}
	if m := reStartDate.FindStringSubmatch(text); m != nil {
		dates["start_date"] = strings.TrimSpace(m[1])
	}
	if m := reEndDate.FindStringSubmatch(text); m != nil {
		dates["end_date"] = strings.TrimSpace(m[1])
	}
	if m := reDateRange.FindStringSubmatch(text); m != nil {
		if dates["start_date"] == nil {
			dates["start_date"] = strings.TrimSpace(m[1])
		}
		if dates["end_date"] == nil {
			dates["end_date"] = strings.TrimSpace(m[2])
		}
	}
	return dates
}

var payoutTypePatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)monthly`), "Monthly"},
	{regexp.MustCompile(`(?i)quarterly`), "Quarterly"},
	{regexp.MustCompile(`(?i)annual`), "Annual"},
	{regexp.MustCompile(`(?i)bi-weekly`), "Bi-Weekly"},
	{regexp.MustCompile(`(?i)semi-annual`), "Semi-Annual"},
}
var reFormula = regexp.MustCompile(`(?i)(?:formula|calculation):\s*([^.]+)`)
var reConditions = regexp.MustCompile(`(?i)(?:conditions|requirements|criteria):\s*([^.]+)`)

func extractPayoutSchedule(s *Section) map[string]any {
	text := s.Text()
	payout := map[string]any{"type": nil, "formula": nil, "conditions": nil}
	for _, p := range payoutTypePatterns {
		if p.re.MatchString(text) {
			payout["type"] = p.name
			break
		}
	}
	if m := reFormula.FindStringSubmatch(text); m != nil {
		payout["formula"] = strings.TrimSpace(m[1])
	}
	if m := reConditions.FindStringSubmatch(text); m != nil {
		payout["conditions"] = strings.TrimSpace(m[1])
	} else {
		payout["conditions"] = strings.TrimSpace(text)
	}
	return payout
}

var specialProvisionKeywords = []string{
	"clawback", "windfall", "leave of absence", "termination", "proration",
	"adjustment", "exception", "credit split", "dispute", "draw", "guarantee",
	"advance", "eligibility", "threshold", "minimum", "maximum", "cap",
}
var specialProvisionComponentMap = map[string]string{
	"clawback": "Recovery Provisions", "windfall": "Adjustments",
	"leave of absence": "Eligibility Rules", "termination": "Employment Changes",
	"proration": "Calculation Adjustments", "credit split": "Crediting Rules",
	"dispute": "Dispute Management", "draw": "Advanced Payments",
	"guarantee": "Guaranteed Payments", "cap": "Payment Caps",
}
var reLeadingName = regexp.MustCompile(`(?m)^([A-Z][^.]+?)(?::|\.|\n)`)

func extractSpecialProvision(s *Section) map[string]any {
	text := s.Text()
	var keywords []string
	for _, kw := range specialProvisionKeywords {
		if strings.Contains(strings.ToLower(text), kw) {
			keywords = append(keywords, kw)
		}
	}
	provision := map[string]any{
		"name": nil, "keywords": keywords, "conditions": nil,
		"description": strings.TrimSpace(text),
		"spm_mapping": map[string]any{
			"spm_process": nil, "spm_category": nil, "spm_component": nil, "matched_keyword": nil,
		},
	}
	if m := reLeadingName.FindStringSubmatch(text); m != nil {
		provision["name"] = strings.TrimSpace(m[1])
	}
	if m := reConditions.FindStringSubmatch(text); m != nil {
		provision["conditions"] = strings.TrimSpace(m[1])
	}
	if len(keywords) > 0 {
		mapping := map[string]any{
			"spm_process": "Incentive Compensation Management", "spm_category": "Special Provisions",
			"spm_component": nil, "matched_keyword": keywords[0],
		}
		for _, kw := range keywords {
			if comp, ok := specialProvisionComponentMap[kw]; ok {
				mapping["spm_component"] = comp
				mapping["matched_keyword"] = kw
				break
			}
		}
		provision["spm_mapping"] = mapping
	}
	return provision
}

var termKeywords = []string{
	"eligibility", "participation", "amendment", "modification", "termination",
	"disclaimer", "jurisdiction", "confidentiality", "non-compete", "non-solicitation",
	"employment", "at-will", "tax", "compliance", "policy",
}
var termComponentPatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)eligibility|participation`), "Eligibility"},
	{regexp.MustCompile(`(?i)amendment|modification|change`), "Plan Modification"},
	{regexp.MustCompile(`(?i)confidentiality|disclosure`), "Confidentiality"},
	{regexp.MustCompile(`(?i)termination|separation|resignation`), "Employment Status"},
	{regexp.MustCompile(`(?i)tax|taxation|withholding`), "Tax Implications"},
	{regexp.MustCompile(`(?i)dispute|resolution|arbitration`), "Dispute Resolution"},
	{regexp.MustCompile(`(?i)compliance|regulatory|legal`), "Compliance"},
}
var termComponentMap = map[string]string{
	"eligibility": "Eligibility Rules", "participation": "Participation Requirements",
	"amendment": "Plan Amendment Process", "modification": "Plan Modification Rules",
	"termination": "Plan Termination Provisions", "confidentiality": "Confidentiality Requirements",
	"tax": "Tax Implications", "compliance": "Compliance Requirements",
}

func extractTermCondition(s *Section) map[string]any {
	text := s.Text()
	var keywords []string
	for _, kw := range termKeywords {
		if strings.Contains(strings.ToLower(text), kw) {
			keywords = append(keywords, kw)
		}
	}
	term := map[string]any{
		"keywords": keywords, "description": strings.TrimSpace(text), "component_type": nil,
		"spm_mapping": map[string]any{
			"spm_process": nil, "spm_category": nil, "spm_component": nil, "matched_keyword": nil,
		},
	}
	for _, p := range termComponentPatterns {
		if p.re.MatchString(text) {
			term["component_type"] = p.name
			break
		}
	}
	if len(keywords) > 0 {
		mapping := map[string]any{
			"spm_process": "Incentive Compensation Management", "spm_category": "Plan Governance",
			"spm_component": nil, "matched_keyword": keywords[0],
		}
		for _, kw := range keywords {
			if comp, ok := termComponentMap[kw]; ok {
				mapping["spm_component"] = comp
				mapping["matched_keyword"] = kw
				break
			}
		}
		term["spm_mapping"] = mapping
	}
	return term
}

var componentTypePatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)quota.*bonus`), "Quota-Based Bonus"},
	{regexp.MustCompile(`(?i)revenue.*commission`), "Revenue-Based Commission"},
	{regexp.MustCompile(`(?i)bonus`), "Bonus"},
	{regexp.MustCompile(`(?i)commission`), "Commission"},
	{regexp.MustCompile(`(?i)incentive`), "Incentive"},
	{regexp.MustCompile(`(?i)multiplier`), "Multiplier"},
	{regexp.MustCompile(`(?i)accelerator`), "Accelerator"},
	{regexp.MustCompile(`(?i)spif`), "SPIF"},
	{regexp.MustCompile(`(?i)mbo`), "MBO"},
	{regexp.MustCompile(`(?i)kpi`), "KPI-Based"},
}
var componentMetricPatterns = []string{
	"quota", "revenue", "attainment", "profit", "margin", "units", "sales",
	"growth", "market share", "customer", "retention", "churn", "performance",
	"objective", "goal", "target",
}
var componentFrequencyPatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)monthly`), "Monthly"},
	{regexp.MustCompile(`(?i)quarterly`), "Quarterly"},
	{regexp.MustCompile(`(?i)annual`), "Annual"},
	{regexp.MustCompile(`(?i)semi-annual`), "Semi-Annual"},
	{regexp.MustCompile(`(?i)one-time`), "One-Time"},
}
var componentCategoryPatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)base.*salary`), "Base Salary"},
	{regexp.MustCompile(`(?i)variable.*pay`), "Variable Pay"},
	{regexp.MustCompile(`(?i)commission`), "Commission"},
	{regexp.MustCompile(`(?i)bonus`), "Bonus"},
	{regexp.MustCompile(`(?i)incentive`), "Incentive"},
	{regexp.MustCompile(`(?i)long.*term`), "Long-Term Incentive"},
	{regexp.MustCompile(`(?i)recognition`), "Recognition Award"},
}
var reTargetAmount = regexp.MustCompile(`(?i)(?:target|amount):\s*\$?([\d,.]+)(?:\s*%)?`)
var componentTypeToSPM = map[string]string{
	"Bonus": "Bonus Calculation", "Commission": "Commission Calculation",
	"Quota-Based Bonus": "Quota Achievement Bonus", "Revenue-Based Commission": "Revenue Attainment Commission",
	"Multiplier": "Performance Multipliers", "Accelerator": "Accelerator Rules",
	"SPIF": "Special Incentive Programs", "MBO": "Management by Objectives", "KPI-Based": "KPI-Based Incentives",
}

func extractCompensationComponent(s *Section) map[string]any {
	text := s.Text()
	component := map[string]any{
		"name": nil, "type": nil, "metrics": []string{}, "category": nil,
		"keywords": []string{}, "frequency": nil, "structure": nil, "target_amount": nil,
		"spm_mapping": map[string]any{
			"spm_process": nil, "spm_category": nil, "spm_component": nil, "matched_keyword": nil,
		},
	}
	if m := reLeadingName.FindStringSubmatch(text); m != nil {
		component["name"] = strings.TrimSpace(m[1])
	}

	var keywords []string
	var compType string
	for _, p := range componentTypePatterns {
		if p.re.MatchString(text) {
			compType = p.name
			component["type"] = compType
			keywords = append(keywords, p.re.String())
			break
		}
	}

	var metrics []string
	for _, m := range componentMetricPatterns {
		if strings.Contains(strings.ToLower(text), m) {
			metrics = append(metrics, m)
			keywords = append(keywords, m)
		}
	}
	component["metrics"] = metrics
	component["keywords"] = keywords

	for _, p := range componentFrequencyPatterns {
		if p.re.MatchString(text) {
			component["frequency"] = p.name
			break
		}
	}
	if m := reTargetAmount.FindStringSubmatch(text); m != nil {
		component["target_amount"] = strings.TrimSpace(m[1])
	}
	for _, p := range componentCategoryPatterns {
		if p.re.MatchString(text) {
			component["category"] = p.name
			break
		}
	}

	switch {
	case s.Kind == KindTable:
		component["structure"] = "Table-Based"
	case s.Kind == KindFormula:
		component["structure"] = "Formula-Based"
	case regexp.MustCompile(`(?i)tier|level|step|threshold`).MatchString(text):
		component["structure"] = "Tiered"
	case regexp.MustCompile(`(?i)formula|calculation|compute`).MatchString(text):
		component["structure"] = "Formula-Based"
	case regexp.MustCompile(`(?i)flat|fixed`).MatchString(text):
		component["structure"] = "Flat Rate"
	}

	if compType != "" && len(metrics) > 0 {
		mapping := map[string]any{
			"spm_process": "Incentive Compensation Management", "spm_category": "Incentives",
			"spm_component": nil, "matched_keyword": keywords[0],
		}
		if comp, ok := componentTypeToSPM[compType]; ok {
			mapping["spm_component"] = comp
		}
		component["spm_mapping"] = mapping
	}

	return component
}
