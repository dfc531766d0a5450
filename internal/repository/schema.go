package repository

// Schema definitions of the reference RFV API.
// Bin lists, rules and class ranges are stored as JSON text.

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS filiais (
    id INTEGER PRIMARY KEY,
    nome TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rfv_parameters (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    filial_id INTEGER REFERENCES filiais(id),
    rule_recency TEXT NOT NULL,
    rule_frequency TEXT NOT NULL,
    rule_value TEXT NOT NULL,
    calculation_strategy TEXT NOT NULL,
    class_ranges TEXT,
    effective_from TEXT NOT NULL,
    effective_to TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rfv_parameters_filial ON rfv_parameters(filial_id);

CREATE TABLE IF NOT EXISTS rfv_segments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    segment_name TEXT NOT NULL,
    rules TEXT NOT NULL,
    priority INTEGER NOT NULL,
    parameter_set_id INTEGER NOT NULL REFERENCES rfv_parameters(id)
);

CREATE INDEX IF NOT EXISTS idx_rfv_segments_set ON rfv_segments(parameter_set_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS filiais (
    id INTEGER PRIMARY KEY,
    nome TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rfv_parameters (
    id SERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    filial_id INTEGER REFERENCES filiais(id),
    rule_recency TEXT NOT NULL,
    rule_frequency TEXT NOT NULL,
    rule_value TEXT NOT NULL,
    calculation_strategy TEXT NOT NULL,
    class_ranges TEXT,
    effective_from TEXT NOT NULL,
    effective_to TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rfv_parameters_filial ON rfv_parameters(filial_id);

CREATE TABLE IF NOT EXISTS rfv_segments (
    id SERIAL PRIMARY KEY,
    segment_name TEXT NOT NULL,
    rules TEXT NOT NULL,
    priority INTEGER NOT NULL,
    parameter_set_id INTEGER NOT NULL REFERENCES rfv_parameters(id)
);

CREATE INDEX IF NOT EXISTS idx_rfv_segments_set ON rfv_segments(parameter_set_id);
`

// seedFiliais is the branch list every fresh database starts with.
var seedFiliais = []struct {
	ID   int
	Nome string
}{
	{1, "Matriz"},
	{10, "Filial Centro"},
	{20, "Filial Norte"},
	{30, "Filial Sul"},
}

func schemaFor(driver string) string {
	if driver == DriverPostgres {
		return postgresSchema
	}
	return sqliteSchema
}
