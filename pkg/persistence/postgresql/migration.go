package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create orchestrations table
			CREATE TABLE orchestrations (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				tags TEXT[] NOT NULL DEFAULT '{}',
				is_active BOOLEAN NOT NULL DEFAULT true,
				steps JSONB NOT NULL DEFAULT '[]',
				input_schema JSONB,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT orchestrations_name_key UNIQUE (name)
			);

			CREATE INDEX idx_orchestrations_is_active ON orchestrations(is_active);
			CREATE INDEX idx_orchestrations_updated_at ON orchestrations(updated_at);
			CREATE INDEX idx_orchestrations_tags ON orchestrations USING GIN (tags);
		`,
		2: `
			-- Create executions table
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				orchestration_id VARCHAR(255) NOT NULL REFERENCES orchestrations(id) ON DELETE CASCADE,
				input JSONB,
				user_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
				context JSONB NOT NULL DEFAULT '{}',
				step_logs JSONB NOT NULL DEFAULT '[]',
				output JSONB,
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_orchestration_started ON executions(orchestration_id, started_at DESC);
			CREATE INDEX idx_executions_status ON executions(status);
		`,
	}
}
