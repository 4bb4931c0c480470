package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- DOCUMENT TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS owner ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS title ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS canonical_text ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS version ON document TYPE int DEFAULT 1;
    DEFINE FIELD IF NOT EXISTS created_at ON document TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON document TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS document_owner ON document FIELDS owner;

    -- ==========================================================================
    -- CHUNK TABLE
    -- ==========================================================================
    -- Chunks tile the document's canonical text: contiguous spans,
    -- no gaps, no overlap. Regenerated wholesale on every reprocess.
    DEFINE TABLE IF NOT EXISTS chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS document ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS position ON chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS start_offset ON chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS end_offset ON chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS content ON chunk TYPE string;

    DEFINE INDEX IF NOT EXISTS chunk_document ON chunk FIELDS document;
    DEFINE INDEX IF NOT EXISTS chunk_document_position ON chunk FIELDS document, position UNIQUE;

    -- ==========================================================================
    -- ANNOTATION POSITION TABLE
    -- ==========================================================================
    -- Positional facet of an annotation. Shares its record id with the
    -- annotation_content row for the same annotation.
    DEFINE TABLE IF NOT EXISTS annotation_position SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS document ON annotation_position TYPE string;
    DEFINE FIELD IF NOT EXISTS start_offset ON annotation_position TYPE int;
    DEFINE FIELD IF NOT EXISTS end_offset ON annotation_position TYPE int;
    DEFINE FIELD IF NOT EXISTS original_text ON annotation_position TYPE string;
    DEFINE FIELD IF NOT EXISTS context_before ON annotation_position TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS context_after ON annotation_position TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS chunk_position ON annotation_position TYPE option<int>;
    DEFINE FIELD IF NOT EXISTS confidence ON annotation_position TYPE float DEFAULT 1.0;
    DEFINE FIELD IF NOT EXISTS method ON annotation_position TYPE string DEFAULT "exact"
        ASSERT $value IN ["exact", "context", "chunk-bounded", "trigram", "lost"];
    DEFINE FIELD IF NOT EXISTS needs_review ON annotation_position TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS updated_at ON annotation_position TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS annotation_position_document ON annotation_position FIELDS document;
    DEFINE INDEX IF NOT EXISTS annotation_position_review ON annotation_position FIELDS needs_review;

    -- ==========================================================================
    -- ANNOTATION CONTENT TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS annotation_content SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS document ON annotation_content TYPE string;
    DEFINE FIELD IF NOT EXISTS text ON annotation_content TYPE string;
    DEFINE FIELD IF NOT EXISTS note ON annotation_content TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS tags ON annotation_content TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS updated_at ON annotation_content TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS annotation_content_document ON annotation_content FIELDS document;

    -- ==========================================================================
    -- JOB TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS owner ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS job_type ON job TYPE string
        ASSERT $value IN ["reprocess-document", "reprocess-connections", "import", "export"];
    DEFINE FIELD IF NOT EXISTS document ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON job TYPE string DEFAULT "pending"
        ASSERT $value IN ["pending", "processing", "paused", "completed", "failed", "cancelled"];
    DEFINE FIELD IF NOT EXISTS payload ON job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS progress ON job TYPE object FLEXIBLE DEFAULT { stage: "queued", percent: 0.0 };
    DEFINE FIELD IF NOT EXISTS checkpoint ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS output ON job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS last_error ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS retry_count ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS next_retry_at ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS cancel_requested ON job TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS pause_requested ON job TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS worker ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS heartbeat_at ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS created_at ON job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS started_at ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON job TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS job_status ON job FIELDS status;
    DEFINE INDEX IF NOT EXISTS job_owner ON job FIELDS owner;
    DEFINE INDEX IF NOT EXISTS job_document ON job FIELDS document;
`
