package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- BATCH TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS batch SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS num ON batch TYPE int;
    DEFINE FIELD IF NOT EXISTS owner ON batch TYPE string;
    DEFINE FIELD IF NOT EXISTS wikibase ON batch TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON batch TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS syntax ON batch TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON batch TYPE string;
    DEFINE FIELD IF NOT EXISTS message ON batch TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS block_on_errors ON batch TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS combine_commands ON batch TYPE bool DEFAULT false;
    -- Flags the status is derived from
    DEFINE FIELD IF NOT EXISTS authorized ON batch TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS started ON batch TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS stop_requested ON batch TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS blocked ON batch TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS failed ON batch TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS created ON batch TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS modified ON batch TYPE datetime DEFAULT time::now();
    -- Bumped by every committed update; writers check it before writing
    DEFINE FIELD IF NOT EXISTS version ON batch TYPE int DEFAULT 1;
    DEFINE FIELD IF NOT EXISTS lease_owner ON batch TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS lease_expires ON batch TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS batch_num ON batch FIELDS num UNIQUE;
    DEFINE INDEX IF NOT EXISTS batch_status ON batch FIELDS status;
    DEFINE INDEX IF NOT EXISTS batch_owner ON batch FIELDS owner;

    -- ==========================================================================
    -- COMMAND TABLE
    -- ==========================================================================
    -- Record ids are "<batch>_<index>"
    DEFINE TABLE IF NOT EXISTS command SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS batch_id ON command TYPE int;
    DEFINE FIELD IF NOT EXISTS idx ON command TYPE int;
    DEFINE FIELD IF NOT EXISTS op ON command TYPE string;  -- JSON encoded operation
    DEFINE FIELD IF NOT EXISTS raw ON command TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS summary ON command TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS status ON command TYPE string;
    DEFINE FIELD IF NOT EXISTS result_id ON command TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS error ON command TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS message ON command TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS attempts ON command TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS modified ON command TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS command_position ON command FIELDS batch_id, idx UNIQUE;
    DEFINE INDEX IF NOT EXISTS command_status ON command FIELDS batch_id, status;

    -- ==========================================================================
    -- COUNTER TABLE (batch id sequence)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS counter SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS value ON counter TYPE int;
`
