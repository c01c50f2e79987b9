package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- JOB TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON job TYPE string;
    -- Counter summary maintained by the runner. Item rows are the ground
    -- truth; these counters are what pollers read and may lag item writes.
    DEFINE FIELD IF NOT EXISTS total ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS pending ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS processing ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS completed ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS failed ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS error ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON job TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS job_user ON job FIELDS user_id;
    DEFINE INDEX IF NOT EXISTS job_status ON job FIELDS status;

    -- ==========================================================================
    -- GEN_ITEM TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS gen_item SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON gen_item TYPE string;
    DEFINE FIELD IF NOT EXISTS position ON gen_item TYPE int;
    DEFINE FIELD IF NOT EXISTS name ON gen_item TYPE string;
    DEFINE FIELD IF NOT EXISTS attributes ON gen_item TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS target ON gen_item TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS status ON gen_item TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON gen_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error ON gen_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS quality_score ON gen_item TYPE option<float>;
    DEFINE FIELD IF NOT EXISTS processing_ms ON gen_item TYPE option<int>;
    DEFINE FIELD IF NOT EXISTS quota_counted ON gen_item TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS started ON gen_item TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON gen_item TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS gen_item_job ON gen_item FIELDS job_id;
    DEFINE INDEX IF NOT EXISTS gen_item_status ON gen_item FIELDS job_id, status;

    -- ==========================================================================
    -- QUOTA TABLE (one row per user per billing period)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS quota SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON quota TYPE string;
    DEFINE FIELD IF NOT EXISTS period ON quota TYPE string;
    DEFINE FIELD IF NOT EXISTS used ON quota TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS usage_limit ON quota TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS updated ON quota TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS quota_user_period ON quota FIELDS user_id, period UNIQUE;
`
