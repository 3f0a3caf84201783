package omie

// Short-name tables mapping the Spanish row labels of each OMIE file
// revision to stable series keys. The tables are allowed to be incomplete;
// rows with labels not listed here pass through the parser untouched.

var spotShortNames = map[string]string{
	"Energía total con bilaterales del mercado Ibérico (MWh)":      "energy_with_bilaterals_es_pt",
	"Energía total de compra sistema español (MWh)":                "energy_purchases_es",
	"Energía total de compra sistema portugués (MWh)":              "energy_purchases_pt",
	"Energía total de venta sistema español (MWh)":                 "energy_sales_es",
	"Energía total de venta sistema portugués (MWh)":               "energy_sales_pt",
	"Energía total del mercado Ibérico (MWh)":                      "energy_es_pt",
	"Exportación de España a Portugal (MWh)":                       "energy_export_es_to_pt",
	"Importación de España desde Portugal (MWh)":                   "energy_import_es_from_pt",
	"Precio marginal en el sistema español (EUR/MWh)":              "spot_price_es",
	"Precio marginal en el sistema portugués (EUR/MWh)":            "spot_price_pt",
}

var adjustmentShortNames = map[string]string{
	"Precio de ajuste en el sistema español (EUR/MWh)":                          "adjustment_price_es",
	"Precio de ajuste en el sistema portugués (EUR/MWh)":                        "adjustment_price_pt",
	"Energía horaria sujeta al MAJ a los consumidores MIBEL (MWh)":              "adjustment_energy",
	"Energía horaria sujeta al mecanismo de ajuste a los consumidores MIBEL (MWh)": "adjustment_energy",
	"Cuantía unitaria del ajuste (EUR/MWh)":                                     "adjustment_unit_price",
}
