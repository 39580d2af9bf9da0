package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/minpaku-sim/web/internal/content"
	"github.com/minpaku-sim/web/internal/format"
	"github.com/minpaku-sim/web/internal/history"
	"github.com/minpaku-sim/web/internal/middleware"
	"github.com/minpaku-sim/web/internal/platform/observability"
	"github.com/minpaku-sim/web/internal/refdata"
	"github.com/minpaku-sim/web/internal/simulation"
	"github.com/minpaku-sim/web/internal/wizard"
)

const historyLimit = 5

// pageView is the template data for every wizard view.
type pageView struct {
	Lang      string
	Supported []string
	CSRFToken string

	State   wizard.State
	Derived wizard.Derived
	Step    string

	Regions       []refdata.Region
	PropertyTypes []refdata.PropertyType
	Bounds        inputBounds

	Landing    content.Doc
	Features   content.Doc
	Disclaimer content.Doc

	Summary    []summaryItem
	ResultJSON string
	Demo       bool
	History    []historyItem
	Overlays   []overlayButton

	// Error is an i18n key for the banner; Gate explains a disabled Next.
	Error string
	Gate  string
}

type summaryItem struct {
	Key   string
	Label string
	Value string
}

type historyItem struct {
	ID           string
	When         string
	Region       string
	PropertyType string
	Rent         string
	Revenue      string
}

type overlayButton struct {
	Kind  string
	Label string
}

var overlayButtons = []struct {
	kind wizard.Overlay
	key  string
}{
	{wizard.OverlayLeadCapture, "results.lead_capture"},
	{wizard.OverlayMessaging, "results.messaging"},
	{wizard.OverlayLegacyMessaging, "results.legacy_messaging"},
}

type inputBounds struct {
	MinRent, MaxRent, RentStep             int64
	MinRenovation, MaxRenovation, RenoStep int64
	MinFee, MaxFee                         int64
}

var defaultBounds = inputBounds{
	MinRent:       wizard.MinMonthlyRent,
	MaxRent:       wizard.MaxMonthlyRent,
	RentStep:      wizard.MonthlyRentStep,
	MinRenovation: wizard.MinRenovationCost,
	MaxRenovation: wizard.MaxRenovationCost,
	RenoStep:      wizard.RenovationCostStep,
	MinFee:        wizard.MinManagementFeeRate,
	MaxFee:        wizard.MaxManagementFeeRate,
}

func (a *app) buildView(ctx context.Context, r *http.Request, st wizard.State, errKey string) pageView {
	lang := middleware.Lang(ctx)
	derived := wizard.Derive(st, a.catalog)
	v := pageView{
		Lang:          lang,
		Supported:     a.bundle.Supported(),
		CSRFToken:     middleware.CSRFToken(r),
		State:         st,
		Derived:       derived,
		Step:          derived.Step.String(),
		Regions:       a.catalog.Regions(),
		PropertyTypes: a.catalog.PropertyTypes(),
		Bounds:        defaultBounds,
		Error:         errKey,
	}
	if v.Error == "" && st.LastError != "" {
		v.Error = "error." + st.LastError
	}

	switch derived.Step {
	case wizard.StepLanding:
		v.Landing = a.content.Lookup(lang, content.SlugLanding)
		v.Features = a.content.Lookup(lang, content.SlugFeatures)
	case wizard.StepRegion:
		if !derived.CanAdvance {
			v.Gate = "gate.region"
		}
	case wizard.StepPropertyType:
		if !derived.CanAdvance {
			v.Gate = "gate.propertyType"
		}
	case wizard.StepResults:
		v.Disclaimer = a.content.Lookup(lang, content.SlugDisclaimer)
		v.Summary = summarize(a, st.Result, lang)
		v.ResultJSON = string(st.Result.Raw())
		v.Demo = st.Result.IsDemo()
		v.History = a.recentHistory(ctx, lang)
		if derived.HasResult {
			for _, b := range overlayButtons {
				v.Overlays = append(v.Overlays, overlayButton{Kind: b.kind.String(), Label: a.bundle.T(lang, b.key)})
			}
		}
	}
	return v
}

var summaryKeys = []string{
	simulation.KeyAnnualRevenue,
	simulation.KeyAnnualCosts,
	simulation.KeyAnnualProfit,
	simulation.KeyROI,
	simulation.KeyRecoveryPeriod,
	simulation.KeyInitialCost,
}

// summarize reads the well-known keys present in the payload; absent ones are skipped.
func summarize(a *app, result simulation.Result, lang string) []summaryItem {
	items := make([]summaryItem, 0, len(summaryKeys))
	for _, key := range summaryKeys {
		n, ok := result.Number(key)
		if !ok {
			continue
		}
		var value string
		switch key {
		case simulation.KeyROI:
			value = format.Percent(n, lang)
		case simulation.KeyRecoveryPeriod:
			value = a.bundle.Tf(lang, "results.years", format.Decimal(n, lang, 1))
		default:
			value = format.YenFloat(n, lang)
		}
		items = append(items, summaryItem{
			Key:   key,
			Label: a.bundle.T(lang, "results."+key),
			Value: value,
		})
	}
	return items
}

// recentHistory lists the visitor's latest successful simulations.
func (a *app) recentHistory(ctx context.Context, lang string) []historyItem {
	records, err := a.controller.History(ctx, sessionID(ctx), historyLimit*2)
	if err != nil {
		observability.FromContext(ctx).Warn("history lookup failed", zap.Error(err))
		return nil
	}
	out := make([]historyItem, 0, historyLimit)
	for _, rec := range records {
		if len(out) == historyLimit {
			break
		}
		if !rec.Succeeded() {
			continue
		}
		out = append(out, a.historyItem(rec, lang))
	}
	return out
}

func (a *app) historyItem(rec history.Record, lang string) historyItem {
	item := historyItem{
		ID:           rec.ID,
		When:         format.Date(rec.CreatedAt, lang),
		Region:       rec.Input.Region,
		PropertyType: rec.Input.PropertyType,
		Rent:         format.Yen(rec.Input.MonthlyRent, lang),
	}
	if region, ok := a.catalog.Region(rec.Input.Region); ok {
		item.Region = region.LocalizedLabel(lang)
	}
	if pt, ok := a.catalog.PropertyType(rec.Input.PropertyType); ok {
		item.PropertyType = pt.LocalizedLabel(lang)
	}
	if revenue, ok := rec.Result.Number(simulation.KeyAnnualRevenue); ok {
		item.Revenue = format.YenFloat(revenue, lang)
	}
	return item
}

func sessionID(ctx context.Context) string {
	if s := middleware.SessionFromContext(ctx); s != nil {
		return s.ID()
	}
	return ""
}
