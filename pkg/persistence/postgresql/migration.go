package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE integrations (
				id UUID PRIMARY KEY,
				external_account_id VARCHAR(255) NOT NULL UNIQUE,
				username VARCHAR(255) NOT NULL DEFAULT '',
				access_token TEXT NOT NULL,
				safety JSONB NOT NULL DEFAULT '{}',
				connected_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE automations (
				id UUID PRIMARY KEY,
				integration_id UUID NOT NULL REFERENCES integrations(id) ON DELETE CASCADE,
				name VARCHAR(255) NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT false,
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_automations_integration_id ON automations(integration_id);
		`,
		2: `
			CREATE TABLE execution_records (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL,
				integration_id UUID NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'success', 'failed', 'cancelled')),
				trigger JSONB NOT NULL,
				phases JSONB NOT NULL DEFAULT '[]',
				usage JSONB NOT NULL DEFAULT '{}',
				error_message TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_execution_records_integration_created ON execution_records(integration_id, created_at DESC);
			CREATE INDEX idx_execution_records_automation_id ON execution_records(automation_id);
		`,
	}
}
