// Package queries holds the SQL statements used by the ledger storage.
package queries

var (
	ProcessedHeight = `
    SELECT height FROM ledger.processed_blocks`

	SetProcessedHeight = `
    INSERT INTO ledger.processed_blocks (id, height, processed_time)
      VALUES (TRUE, $1, CURRENT_TIMESTAMP)
    ON CONFLICT (id) DO UPDATE SET
      height = excluded.height,
      processed_time = excluded.processed_time`

	AccountGet = `
    SELECT free, reserved, total, updated_at
    FROM ledger.accounts
    WHERE id = $1`

	AccountUpsert = `
    INSERT INTO ledger.accounts (id, free, reserved, total, updated_at)
      VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (id) DO UPDATE SET
      free = excluded.free,
      reserved = excluded.reserved,
      total = excluded.total,
      updated_at = excluded.updated_at`

	AccountDelete = `
    DELETE FROM ledger.accounts
    WHERE id = $1`

	IdentityGet = `
    SELECT account_id, display, legal, web, riot, email, pgp_fingerprint, image, twitter,
      additional, judgement, is_killed
    FROM ledger.identities
    WHERE id = $1`

	IdentityInsert = `
    INSERT INTO ledger.identities (id, account_id, display, legal, web, riot, email,
      pgp_fingerprint, image, twitter, additional, judgement, is_killed)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	IdentityUpsert = IdentityInsert + `
    ON CONFLICT (id) DO UPDATE SET
      account_id = excluded.account_id,
      display = excluded.display,
      legal = excluded.legal,
      web = excluded.web,
      riot = excluded.riot,
      email = excluded.email,
      pgp_fingerprint = excluded.pgp_fingerprint,
      image = excluded.image,
      twitter = excluded.twitter,
      additional = excluded.additional,
      judgement = excluded.judgement,
      is_killed = excluded.is_killed`

	IdentitySubGet = `
    SELECT name, super_id, account_id
    FROM ledger.identity_subs
    WHERE id = $1`

	IdentitySubInsert = `
    INSERT INTO ledger.identity_subs (id, name, super_id, account_id)
    VALUES ($1, $2, $3, $4)`

	IdentitySubUpsert = IdentitySubInsert + `
    ON CONFLICT (id) DO UPDATE SET
      name = excluded.name,
      super_id = excluded.super_id,
      account_id = excluded.account_id`

	IdentitySubsBySuper = `
    SELECT id, name, super_id, account_id
    FROM ledger.identity_subs
    WHERE super_id = $1
    ORDER BY id`

	ChainStateLatest = `
    SELECT timestamp, block_number, token_holders, total_free, total_reserved, total_balance, identity_count
    FROM ledger.chain_states
    ORDER BY timestamp DESC
    LIMIT 1`

	ChainStateInsert = `
    INSERT INTO ledger.chain_states (timestamp, block_number, token_holders, total_free,
      total_reserved, total_balance, identity_count)
    VALUES ($1, $2, $3, $4, $5, $6, $7)`

	ChainStateCounters = `
    SELECT
      (SELECT COUNT(*) FROM ledger.accounts WHERE total > 0),
      (SELECT COALESCE(SUM(free), 0) FROM ledger.accounts),
      (SELECT COALESCE(SUM(reserved), 0) FROM ledger.accounts),
      (SELECT COALESCE(SUM(total), 0) FROM ledger.accounts),
      (SELECT COUNT(*) FROM ledger.identities WHERE NOT is_killed)`

	ContractEventGet = `
    SELECT block_number, index_in_block, contract_address, data, created_at, extrinsic_hash
    FROM ledger.contract_events
    WHERE id = $1`

	ContractEventUpsert = `
    INSERT INTO ledger.contract_events (id, block_number, index_in_block, contract_address,
      data, created_at, extrinsic_hash)
    VALUES ($1, $2, $3, $4, $5, $6, $7)
    ON CONFLICT (id) DO UPDATE SET
      contract_address = excluded.contract_address,
      data = excluded.data,
      created_at = excluded.created_at,
      extrinsic_hash = excluded.extrinsic_hash`

	DecodedContractEventGet = `
    SELECT name, signature, args
    FROM ledger.decoded_contract_events
    WHERE id = $1`

	DecodedContractEventUpsert = `
    INSERT INTO ledger.decoded_contract_events (id, name, signature, args)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (id) DO UPDATE SET
      name = excluded.name,
      signature = excluded.signature,
      args = excluded.args`

	StakingRewardGet = `
    SELECT block_number, timestamp, extrinsic_hash, account_id, amount, validator, era
    FROM ledger.staking_rewards
    WHERE id = $1`

	// Validator and era are not overwritten; they may have been resolved
	// since the row was first written.
	StakingRewardUpsert = `
    INSERT INTO ledger.staking_rewards (id, block_number, timestamp, extrinsic_hash,
      account_id, amount, validator, era)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    ON CONFLICT (id) DO UPDATE SET
      block_number = excluded.block_number,
      timestamp = excluded.timestamp,
      extrinsic_hash = excluded.extrinsic_hash,
      account_id = excluded.account_id,
      amount = excluded.amount`
)
