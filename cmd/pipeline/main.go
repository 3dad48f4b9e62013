// cmd/pipeline is a standalone demo that runs a cached, hand-transcribed
// CSA's extracted fields through normalize -> map -> calculate -> explain
// and prints a margin call report, without going through the HTTP API or
// the external document-AI parse/extract step (DEEPSEEK_API_KEY still
// drives the LLM-backed normalization and explanation agents).
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"csa-margin-engine/pkg/core/agent"
	"csa-margin-engine/pkg/core/calc"
	"csa-margin-engine/pkg/core/mapper"
	"csa-margin-engine/pkg/core/normalize"
	"csa-margin-engine/pkg/core/script"
	"csa-margin-engine/pkg/models"
)

// sampleExtraction stands in for ADE's output over a two-way CSA between
// Acme Capital LLC and Meridian Swaps Inc, transcribed by hand for this
// demo rather than fetched live.
func sampleExtraction() models.Extraction {
	return models.Extraction{
		DocumentID: "demo-doc",
		AgreementInfo: models.AgreementInfo{
			PartyAName:    "Acme Capital LLC",
			PartyBName:    "Meridian Swaps Inc",
			AgreementDate: "2023-06-01",
			SignatureDate: "2023-06-05",
		},
		CoreMarginTerms: models.CoreMarginTerms{
			PartyAThreshold:             "USD 5,000,000",
			PartyBThreshold:             "Infinity",
			PartyAMinimumTransferAmount: "USD 250,000",
			PartyBMinimumTransferAmount: "USD 250,000",
			PartyAIndependentAmount:     "0",
			PartyBIndependentAmount:     "0",
			Rounding:                    "USD 10,000",
			BaseCurrency:                "USD",
		},
		ValuationTiming: models.ValuationTiming{
			NotificationTime: "10:00 a.m., New York time",
			ValuationTime:    "4:00 p.m., New York time",
			ValuationAgent:   "Acme Capital LLC",
		},
		EligibleCollateralTable: []models.CollateralRow{
			{CollateralType: "Cash (USD)", Valuations: []string{"100%"}},
			{CollateralType: "U.S. Treasury securities (1-3yr)", Valuations: []string{"99%"}},
			{CollateralType: "U.S. Treasury securities (3-10yr)", Valuations: []string{"98%"}},
		},
		ColumnInfo: models.ColumnInfo{
			ValuationColumnCount: 1,
			ValuationColumnNames: []string{"Base Valuation Percentage"},
		},
		ClausesToCollect: map[string]string{
			"threshold": `"Threshold" means, with respect to Party A, USD 5,000,000, and with respect to Party B, infinity.`,
			"rounding":  `"Rounding" means USD 10,000.`,
		},
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("warning: .env file not found, assuming environment variables are set")
	}
	if os.Getenv("DEEPSEEK_API_KEY") == "" {
		log.Fatal("DEEPSEEK_API_KEY is not set")
	}

	agentCfg := agent.Config{ActiveProvider: "deepseek"}
	agentMgr := agent.NewManager(agentCfg)

	extraction := sampleExtraction()
	markdown := "CONFIRMATION OF CREDIT SUPPORT ANNEX\n\nbetween Acme Capital LLC and Meridian Swaps Inc\n"

	fmt.Println("Normalizing extracted CSA terms...")
	normalizer := normalize.NewOrchestrator(agentMgr, normalize.Config{AutoBatchThreshold: 20, ParallelBatchSize: 5})
	result := normalizer.Normalize(context.Background(), extraction, markdown)

	fmt.Println("Mapping to CSATerms...")
	normalizedTable := models.NormalizedCollateralTable{
		DocumentID:      "demo-normalized",
		ExtractionID:    "demo-extraction",
		RatingEvents:    result.RatingEvents,
		CollateralItems: result.NormalizedCollateral,
	}
	confidenceScores := map[string]float64{
		"collateral": result.CollateralResult.Confidence,
		"temporal":   result.TemporalResult.Confidence,
		"currency":   result.CurrencyResult.Confidence,
		"overall":    result.OverallConfidence,
	}
	csaTerms, err := mapper.MapToCSATerms(extraction, "demo-doc", normalizedTable, confidenceScores)
	if err != nil {
		log.Fatalf("mapping failed: %v", err)
	}

	netExposure := 8_250_000.0
	threshold, mta, independentAmount, _ := csaTerms.ThresholdFor("party_a")

	fmt.Printf("Calculating margin call for Acme Capital LLC at net exposure $%.2f...\n", netExposure)
	margin, err := calc.CalculateMarginRequirement(calc.Input{
		NetExposure:           netExposure,
		Threshold:             threshold,
		MinimumTransferAmount: mta,
		Rounding:              csaTerms.Rounding,
		IndependentAmount:     independentAmount,
		Currency:              csaTerms.Currency,
		CounterpartyName:      csaTerms.PartyBName,
		CSATermsID:            "demo-doc",
	})
	if err != nil {
		log.Fatalf("calculation failed: %v", err)
	}

	fmt.Println("Generating narrative explanation...")
	explainer := script.NewExplanationGenerator(agentMgr)
	explanation, err := explainer.Generate(context.Background(), *margin, *csaTerms, "demo-doc", script.NewClauseIndex(extraction))
	if err != nil {
		log.Fatalf("explanation failed: %v", err)
	}

	fmt.Println()
	fmt.Println("=== Margin Call Report ===")
	fmt.Printf("Counterparty:    %s\n", margin.CounterpartyName)
	fmt.Printf("Action:          %s\n", margin.Action)
	fmt.Printf("Amount:          %.2f %s\n", margin.Amount, margin.Currency)
	fmt.Printf("Net Exposure:    %.2f\n", margin.NetExposure)
	fmt.Printf("Effective Coll.: %.2f\n", margin.EffectiveCollateral)
	fmt.Println()
	fmt.Println("Calculation steps:")
	for _, step := range margin.CalculationSteps {
		fmt.Printf("  %d. %s -> %.2f\n", step.StepNumber, step.Description, step.Result)
	}
	fmt.Println()
	fmt.Println("Narrative:")
	fmt.Println(explanation.Narrative)
}
